// Package aitokens estimates token counts for provider.Message lists using
// tiktoken-go, caching one encoder per model name.
//
// Grounded on beeper-ai-bridge's pkg/aitokens/tokenizer.go, generalized away
// from openai.ChatCompletionMessageParamUnion to this repo's own
// provider.Message so the estimator serves both the OpenAI and Anthropic
// generators alike.
package aitokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/commubrain/core/internal/provider"
)

const tokensPerMessage = 3

var (
	tokenizerCache   = make(map[string]*tiktoken.Tiktoken)
	tokenizerCacheMu sync.RWMutex
)

// GetTokenizer returns a cached tiktoken encoder for model, falling back to
// cl100k_base when the model is unrecognized.
func GetTokenizer(model string) (*tiktoken.Tiktoken, error) {
	tokenizerCacheMu.RLock()
	if tkm, ok := tokenizerCache[model]; ok {
		tokenizerCacheMu.RUnlock()
		return tkm, nil
	}
	tokenizerCacheMu.RUnlock()

	tokenizerCacheMu.Lock()
	defer tokenizerCacheMu.Unlock()

	if tkm, ok := tokenizerCache[model]; ok {
		return tkm, nil
	}

	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	tokenizerCache[model] = tkm
	return tkm, nil
}

// EstimateTokens counts tokens across an ordered message list for model,
// including per-message role/overhead tokens and the reply-priming tokens.
func EstimateTokens(messages []provider.Message, model string) (int, error) {
	tkm, err := GetTokenizer(model)
	if err != nil {
		return 0, err
	}

	numTokens := 0
	for _, msg := range messages {
		numTokens += tokensPerMessage
		numTokens += len(tkm.Encode(msg.Content, nil, nil))
		numTokens += len(tkm.Encode(string(msg.Role), nil, nil))
	}
	numTokens += 3 // reply is primed with role + start tokens

	return numTokens, nil
}

// EstimateText counts tokens in a single string for model.
func EstimateText(text string, model string) (int, error) {
	tkm, err := GetTokenizer(model)
	if err != nil {
		return 0, err
	}
	return len(tkm.Encode(text, nil, nil)), nil
}
