// Copyright 2024 Gateway Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm defines the gateway's OpenAI-compatible wire contract: the
ChatRequest/ChatResponse/ChatChoice/ChatUsage/StreamChunk types every
family adapter translates to and from, plus the shared Message/Role/
ToolCall/Error aliases callers use so they only ever import this one
package for the wire shapes.

# Usage

The chat handler builds a ChatRequest from the inbound HTTP body, hands
it to router.Resolve for a provider/model decision, and then to the
resolved family.Family for translation to that provider's native
request shape:

	req := &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: []llm.Message{
	        {Role: llm.RoleUser, Content: "Hello!"},
	    },
	}

# Streaming

StreamChunk is the normalized unit every family.StreamParser yields,
regardless of the upstream's actual SSE framing:

	for {
	    chunk, err := parser.Next()
	    if err == io.EOF {
	        break
	    }
	    if err != nil {
	        return err
	    }
	    fmt.Print(chunk.Delta.Content)
	}

# Error handling

IsRetryable reports whether an Error should be retried by the caller
rather than surfaced immediately. The chat handler's dispatch path uses
this to decide whether a failed upstream call goes through llm/retry's
backoff and the per-provider llm/circuitbreaker before giving up:

	if llm.IsRetryable(err) {
	    // retry with backoff, see llm/retry
	}

# Subpackages

  - llm/idempotency: request-level dedup keyed by caller-supplied request ids
  - llm/retry: exponential backoff helpers wrapping the chat handler's upstream call
  - llm/circuitbreaker: per-provider trip/half-open/reset state machine, also wrapping dispatch
  - llm/tokenizer: tiktoken-backed and CJK-aware estimators, see tokencount
*/
package llm
