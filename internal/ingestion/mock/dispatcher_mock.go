package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kailera/acertaia-api/internal/ingestion"
	"github.com/kailera/acertaia-api/internal/model"
)

// DispatcherMock records routed deliveries.
type DispatcherMock struct {
	mock.Mock
}

var _ ingestion.Dispatcher = (*DispatcherMock)(nil)

func (m *DispatcherMock) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	return m.Called(ctx, metadata, rawEvent).Error(0)
}

// OnInstance expects one delivery for instance and answers it with err.
func (m *DispatcherMock) OnInstance(instance string, err error) *mock.Call {
	return m.On("Route", mock.Anything, mock.MatchedBy(func(md *model.MessageMetadata) bool {
		return md.Instance == instance
	}), mock.Anything).Return(err)
}
