// Package retrieval implements the Retrieval Coordinator: the
// synchronous-over-asynchronous protocol that lets the UserPromptSubmit
// hook enqueue a context request and poll the retrieval_inbox for one or
// two agent replies within a bounded window, merging them before returning
// additional context to the host assistant.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aidam-sidecar/core/pkg/inbox"
)

const (
	// pollIterations and pollInterval give the ~7s base poll window.
	pollIterations = 14
	pollInterval   = 500 * time.Millisecond

	// graceIterations is the second-chance window granted once a real
	// result has arrived: 3 x 500ms, about 1.5s.
	graceIterations = 3

	memoryContextHeader     = "=== MEMORY CONTEXT ==="
	additionalContextHeader = "=== ADDITIONAL CONTEXT ==="
)

// Coordinator runs the prompt-submit retrieval protocol against an inbox.Bus.
type Coordinator struct {
	bus   *inbox.Bus
	sleep func(time.Duration)
}

// New builds a Coordinator over bus, sleeping via time.Sleep between polls.
func New(bus *inbox.Bus) *Coordinator {
	return &Coordinator{bus: bus, sleep: time.Sleep}
}

// WithSleeper overrides the poll-loop's sleep function; tests use it to
// collapse the multi-second wait into a virtual clock.
func (c *Coordinator) WithSleeper(sleep func(time.Duration)) *Coordinator {
	c.sleep = sleep
	return c
}

// PromptHash returns the first 16 hex characters of SHA-256(prompt), the
// correlation key agents and the coordinator use to match replies to a
// specific prompt.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// promptContextPayload is the JSON body of the prompt_context job.
type promptContextPayload struct {
	Prompt     string    `json:"prompt"`
	PromptHash string    `json:"promptHash"`
	Timestamp  time.Time `json:"timestamp"`
}

// OnUserPromptSubmit runs the full submit-and-wait protocol for one prompt
// and returns the additionalContext to inject, or "" if nothing came back
// in time.
func (c *Coordinator) OnUserPromptSubmit(ctx context.Context, sessionID, prompt string) (string, error) {
	now := time.Now()
	promptHash := PromptHash(prompt)

	if _, err := c.bus.EnqueueJob(ctx, sessionID, inbox.MessagePromptContext, promptContextPayload{
		Prompt: prompt, PromptHash: promptHash, Timestamp: now,
	}); err != nil {
		return "", fmt.Errorf("failed to enqueue prompt context job: %w", err)
	}

	if _, err := c.bus.CleanupExpiredRetrieval(ctx); err != nil {
		return "", fmt.Errorf("failed to clean up expired retrieval rows: %w", err)
	}

	// Late-arrival check: a reply to a previous prompt that missed
	// its own poll window may have landed since. Claim it immediately and
	// skip polling entirely; this prompt's own replies will still be
	// waiting on the next submit's late-arrival check if they're slow too.
	if late, err := c.bus.ConsumeAnyPendingForSession(ctx, sessionID, now); err != nil {
		return "", fmt.Errorf("failed late-arrival check: %w", err)
	} else if late != nil {
		return late.ContextText, nil
	}

	real, _ := c.poll(ctx, sessionID, promptHash)
	return mergeResults(real), nil
}

// poll runs the bounded polling loop and returns every real (non-empty,
// non-"none") result observed, in arrival order.
func (c *Coordinator) poll(ctx context.Context, sessionID, promptHash string) ([]inbox.Result, error) {
	var real []inbox.Result
	noneCount := 0
	graceGranted := false
	graceRemaining := 0

	for i := 0; i < pollIterations; i++ {
		c.sleep(pollInterval)

		results, err := c.bus.ConsumeResults(ctx, sessionID, promptHash)
		if err != nil {
			return real, fmt.Errorf("failed to consume retrieval results: %w", err)
		}
		for _, r := range results {
			if isNoneReply(r) {
				noneCount++
			} else {
				real = append(real, r)
			}
		}

		// Termination rules, applied in order, after every iteration.
		if noneCount >= 2 {
			break
		}
		if len(real) >= 1 && !graceGranted {
			graceGranted = true
			graceRemaining = graceIterations
			continue
		}
		if graceGranted {
			graceRemaining--
			if graceRemaining <= 0 || len(real) >= 2 {
				break
			}
		}
	}

	return real, nil
}

// isNoneReply reports whether a retrieval_inbox row counts as a "none" vote
// rather than real context. A single none never shortcuts the wait; two
// always do.
func isNoneReply(r inbox.Result) bool {
	return r.ContextType == "none" || strings.TrimSpace(r.ContextText) == ""
}

// mergeResults turns the collected real results into the injected text:
// zero results yields "", one result is returned verbatim, two or more are
// merged by concatenating the second after rewriting its header so
// duplicate section markers don't appear.
func mergeResults(real []inbox.Result) string {
	switch {
	case len(real) == 0:
		return ""
	case len(real) == 1:
		return real[0].ContextText
	default:
		first := real[0].ContextText
		second := rewriteHeader(real[1].ContextText)
		return first + "\n\n" + second
	}
}

// rewriteHeader replaces the first occurrence of the memory-context header
// marker with the additional-context marker, so a second retriever's reply
// doesn't repeat the first's section title verbatim.
func rewriteHeader(text string) string {
	idx := strings.Index(text, memoryContextHeader)
	if idx == -1 {
		return text
	}
	return text[:idx] + additionalContextHeader + text[idx+len(memoryContextHeader):]
}
