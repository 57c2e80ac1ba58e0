package llm

import (
	"context"

	"github.com/entrhq/merlin/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock implementing Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	args := m.Called(ctx, messages)
	msg, _ := args.Get(0).(*types.Message)
	return msg, args.Error(1)
}
