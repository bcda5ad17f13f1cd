package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// MockCheckpointRepository is a mock implementation of repository.CheckpointDataRepository.
type MockCheckpointRepository struct {
	mock.Mock
}

// SaveCheckpointData mocks the SaveCheckpointData method.
func (m *MockCheckpointRepository) SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error {
	return m.Called(ctx, data).Error(0)
}

// FindCheckpointData mocks the FindCheckpointData method.
func (m *MockCheckpointRepository) FindCheckpointData(ctx context.Context, stepName string) (*model.CheckpointData, error) {
	args := m.Called(ctx, stepName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CheckpointData), args.Error(1)
}

// DeleteCheckpointData mocks the DeleteCheckpointData method.
func (m *MockCheckpointRepository) DeleteCheckpointData(ctx context.Context, stepName string) error {
	return m.Called(ctx, stepName).Error(0)
}

// MockPersistentUserDataRecorder is a mock implementation of port.PersistentUserDataRecorder.
type MockPersistentUserDataRecorder struct {
	mock.Mock
}

// Append mocks the Append method.
func (m *MockPersistentUserDataRecorder) Append(ctx context.Context, stepName string, itemIDs []string) error {
	return m.Called(ctx, stepName, itemIDs).Error(0)
}

var _ repository.CheckpointDataRepository = (*MockCheckpointRepository)(nil)
