package catalog

// providers is the static list of upstream providers the gateway knows
// how to talk to. The auto router does not walk this list: it walks
// OrderedModelIDs and, within each model, its ProviderMappings in order.
var providers = []Provider{
	{
		ID:                   "openai",
		Name:                 "OpenAI",
		EndpointTemplate:     "https://api.openai.com/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "OPENAI_API_KEY",
	},
	{
		ID:                   "anthropic",
		Name:                 "Anthropic",
		EndpointTemplate:     "https://api.anthropic.com/v1/messages",
		AuthScheme:           AuthHeader,
		Family:               FamilyAnthropic,
		CancellationSafe:     true,
		DefaultCredentialEnv: "ANTHROPIC_API_KEY",
	},
	{
		ID:                     "google-vertex",
		Name:                   "Google Vertex AI",
		EndpointTemplate:       "https://{region}-aiplatform.googleapis.com/v1/projects/{project}/locations/{region}/publishers/google/models/{model}:generateContent",
		StreamEndpointTemplate: "https://{region}-aiplatform.googleapis.com/v1/projects/{project}/locations/{region}/publishers/google/models/{model}:streamGenerateContent",
		AuthScheme:             AuthBearer,
		Family:                 FamilyGoogle,
		CancellationSafe:       true,
		DefaultCredentialEnv:   "GOOGLE_VERTEX_CREDENTIALS",
	},
	{
		ID:                     "google-ai-studio",
		Name:                   "Google AI Studio",
		EndpointTemplate:       "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent",
		StreamEndpointTemplate: "https://generativelanguage.googleapis.com/v1beta/models/{model}:streamGenerateContent",
		AuthScheme:             AuthQueryParam,
		Family:                 FamilyGoogle,
		CancellationSafe:       true,
		DefaultCredentialEnv:   "GOOGLE_AI_STUDIO_API_KEY",
	},
	{
		ID:                   "mistral",
		Name:                 "Mistral AI",
		EndpointTemplate:     "https://api.mistral.ai/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyMistral,
		CancellationSafe:     true,
		DefaultCredentialEnv: "MISTRAL_API_KEY",
	},
	{
		ID:                   "deepseek",
		Name:                 "DeepSeek",
		EndpointTemplate:     "https://api.deepseek.com/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "DEEPSEEK_API_KEY",
	},
	{
		ID:                   "perplexity",
		Name:                 "Perplexity",
		EndpointTemplate:     "https://api.perplexity.ai/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "PERPLEXITY_API_KEY",
	},
	{
		ID:                   "groq",
		Name:                 "Groq",
		EndpointTemplate:     "https://api.groq.com/openai/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "GROQ_API_KEY",
	},
	{
		ID:                   "together",
		Name:                 "Together AI",
		EndpointTemplate:     "https://api.together.xyz/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "TOGETHER_API_KEY",
	},
	{
		ID:                   "inference-net",
		Name:                 "Inference.net",
		EndpointTemplate:     "https://api.inference.net/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "INFERENCE_NET_API_KEY",
	},
	{
		ID:                   "alibaba",
		Name:                 "Alibaba Cloud (Qwen)",
		EndpointTemplate:     "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "ALIBABA_API_KEY",
	},
	{
		ID:                   "xai",
		Name:                 "xAI",
		EndpointTemplate:     "https://api.x.ai/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "XAI_API_KEY",
	},
	{
		ID:                   "moonshot",
		Name:                 "Moonshot (Kimi)",
		EndpointTemplate:     "https://api.moonshot.cn/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "MOONSHOT_API_KEY",
	},
	{
		ID:                   "meta",
		Name:                 "Meta Llama API",
		EndpointTemplate:     "https://api.llama.com/v1/chat/completions",
		AuthScheme:           AuthBearer,
		Family:               FamilyOpenAI,
		CancellationSafe:     true,
		DefaultCredentialEnv: "META_LLAMA_API_KEY",
	},
	{
		ID:               "llmgateway",
		Name:             "llmgateway meta-provider",
		AuthScheme:       AuthBearer,
		Family:           FamilyOpenAI,
		CancellationSafe: true,
	},
}

// models is the static catalog of canonical models and their provider
// mappings. Declared order matters for two things: the `auto` router walks
// this slice in order looking for the first viable model, and a tiered
// price's tie-break on identical declared prices favors earlier entries.
var models = []Model{
	{
		ID:         "gpt-4o",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "openai",
				ProviderModelName: "gpt-4o",
				InputPrice:        2.50,
				OutputPrice:       10.00,
				CachedInputPrice:  1.25,
				ContextSize:       128_000,
				MaxOutput:         16_384,
				Streaming:         true,
				Vision:            true,
			},
		},
	},
	{
		ID:         "gpt-4o-mini",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "openai",
				ProviderModelName: "gpt-4o-mini",
				InputPrice:        0.15,
				OutputPrice:       0.60,
				CachedInputPrice:  0.075,
				ContextSize:       128_000,
				MaxOutput:         16_384,
				Streaming:         true,
				Vision:            true,
			},
		},
	},
	{
		ID:         "o1",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "openai",
				ProviderModelName: "o1",
				InputPrice:        15.00,
				OutputPrice:       60.00,
				CachedInputPrice:  7.50,
				ContextSize:       200_000,
				MaxOutput:         100_000,
				Streaming:         false,
				Reasoning:         true,
			},
		},
	},
	{
		ID:         "claude-3-5-sonnet",
		JSONOutput: false,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "anthropic",
				ProviderModelName: "claude-3-5-sonnet-20241022",
				InputPrice:        3.00,
				OutputPrice:       15.00,
				CachedInputPrice:  0.30,
				ContextSize:       200_000,
				MaxOutput:         8_192,
				Streaming:         true,
				Vision:            true,
			},
		},
	},
	{
		ID:         "claude-3-5-haiku",
		JSONOutput: false,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "anthropic",
				ProviderModelName: "claude-3-5-haiku-20241022",
				InputPrice:        0.80,
				OutputPrice:       4.00,
				CachedInputPrice:  0.08,
				ContextSize:       200_000,
				MaxOutput:         8_192,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "gemini-2.5-pro",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "google-ai-studio",
				ProviderModelName: "gemini-2.5-pro",
				ContextSize:       2_000_000,
				MaxOutput:         8_192,
				Streaming:         true,
				Vision:            true,
				Reasoning:         true,
				// Tiered pricing: context <=200K is cheaper than the overflow tier.
				PriceTiers: []PriceTier{
					{MinContextSize: 0, MaxContextSize: 200_000, InputPrice: 1.25, OutputPrice: 5.00, CachedInputPrice: 0.31},
					{MinContextSize: 200_001, MaxContextSize: 0, InputPrice: 2.50, OutputPrice: 10.00, CachedInputPrice: 0.625},
				},
			},
			{
				ProviderID:        "google-vertex",
				ProviderModelName: "gemini-2.5-pro",
				ContextSize:       2_000_000,
				MaxOutput:         8_192,
				Streaming:         true,
				Vision:            true,
				Reasoning:         true,
				PriceTiers: []PriceTier{
					{MinContextSize: 0, MaxContextSize: 200_000, InputPrice: 1.25, OutputPrice: 5.00, CachedInputPrice: 0.31},
					{MinContextSize: 200_001, MaxContextSize: 0, InputPrice: 2.50, OutputPrice: 10.00, CachedInputPrice: 0.625},
				},
			},
		},
	},
	{
		ID:         "gemini-2.5-flash",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "google-ai-studio",
				ProviderModelName: "gemini-2.5-flash",
				InputPrice:        0.30,
				OutputPrice:       2.50,
				CachedInputPrice:  0.075,
				ContextSize:       1_000_000,
				MaxOutput:         8_192,
				Streaming:         true,
				Vision:            true,
				Reasoning:         true,
			},
		},
	},
	{
		ID:         "mistral-large",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "mistral",
				ProviderModelName: "mistral-large-latest",
				InputPrice:        2.00,
				OutputPrice:       6.00,
				ContextSize:       128_000,
				MaxOutput:         4_096,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "deepseek-chat",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "deepseek",
				ProviderModelName: "deepseek-chat",
				InputPrice:        0.27,
				OutputPrice:       1.10,
				CachedInputPrice:  0.07,
				ContextSize:       64_000,
				MaxOutput:         8_192,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "deepseek-reasoner",
		JSONOutput: false,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "deepseek",
				ProviderModelName: "deepseek-reasoner",
				InputPrice:        0.55,
				OutputPrice:       2.19,
				CachedInputPrice:  0.14,
				ContextSize:       64_000,
				MaxOutput:         8_192,
				Streaming:         true,
				Reasoning:         true,
			},
		},
	},
	{
		ID:         "llama-3.3-70b",
		JSONOutput: false,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "groq",
				ProviderModelName: "llama-3.3-70b-versatile",
				InputPrice:        0.59,
				OutputPrice:       0.79,
				ContextSize:       128_000,
				MaxOutput:         32_768,
				Streaming:         true,
			},
			{
				ProviderID:        "together",
				ProviderModelName: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
				InputPrice:        0.88,
				OutputPrice:       0.88,
				ContextSize:       128_000,
				MaxOutput:         32_768,
				Streaming:         true,
			},
			{
				ProviderID:        "meta",
				ProviderModelName: "Llama-3.3-70B-Instruct",
				InputPrice:        0.80,
				OutputPrice:       0.80,
				ContextSize:       128_000,
				MaxOutput:         32_768,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "qwen-2.5-72b",
		JSONOutput: false,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "alibaba",
				ProviderModelName: "qwen2.5-72b-instruct",
				InputPrice:        0.56,
				OutputPrice:       1.68,
				ContextSize:       131_072,
				MaxOutput:         8_192,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "grok-2",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "xai",
				ProviderModelName: "grok-2-latest",
				InputPrice:        2.00,
				OutputPrice:       10.00,
				ContextSize:       131_072,
				MaxOutput:         4_096,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "moonshot-v1-128k",
		JSONOutput: true,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "moonshot",
				ProviderModelName: "moonshot-v1-128k",
				InputPrice:        2.05,
				OutputPrice:       2.05,
				ContextSize:       128_000,
				MaxOutput:         4_096,
				Streaming:         true,
			},
		},
	},
	{
		ID:         "sonar",
		JSONOutput: false,
		ProviderMappings: []ProviderMapping{
			{
				ProviderID:        "perplexity",
				ProviderModelName: "sonar",
				InputPrice:        1.00,
				OutputPrice:       1.00,
				RequestPrice:      0.005,
				ContextSize:       127_072,
				MaxOutput:         4_096,
				Streaming:         true,
			},
		},
	},
}
