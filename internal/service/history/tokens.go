package history

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"
)

// Encoding is the BPE encoding used to count tokens.
const Encoding = "cl100k_base"

var (
	defaultOnce      sync.Once
	defaultEstimator func(string) int
)

// EstimateTokens counts tokens with the cl100k_base encoding. The BPE ranks
// ship with the binary, so no download happens at runtime. When the encoding
// cannot be built it counts words instead.
func EstimateTokens(text string) int {
	defaultOnce.Do(func() {
		defaultEstimator = NewEstimator(LoadEncoding)
	})
	return defaultEstimator(text)
}

// LoadEncoding builds the offline cl100k_base encoder.
func LoadEncoding() (*tiktoken.Tiktoken, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	return tiktoken.GetEncoding(Encoding)
}

// NewEstimator returns a token counter backed by the encoder load returns,
// or CountWords when load fails.
func NewEstimator(load func() (*tiktoken.Tiktoken, error)) func(string) int {
	enc, err := load()
	if err != nil {
		zap.L().Warn("token encoding unavailable, counting words", zap.String("encoding", Encoding), zap.Error(err))
		return CountWords
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}

// CountWords approximates a token count by whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
