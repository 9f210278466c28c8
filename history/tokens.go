package history

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens in the prompt plus output with the cl100k
// encoding, falling back to the chars/4 heuristic when the encoding is
// unavailable (for example with no tokenizer data on disk).
func EstimateTokens(prompt, output string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(prompt) + len(output)) / 4
	}
	return len(encoding.Encode(prompt, nil, nil)) + len(encoding.Encode(output, nil, nil))
}
