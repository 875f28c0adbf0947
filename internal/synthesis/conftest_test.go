package synthesis

import (
	"context"

	"github.com/parleyhq/parley/internal/domain"
)

// fakeGenerator records the messages it receives and returns a canned
// answer or error.
type fakeGenerator struct {
	messages []domain.Message
	answer   string
	err      error
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}
