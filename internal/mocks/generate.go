// Package mocks provides mock implementations for testing the transcode engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// core repository interfaces. The mocks are generated using go:generate directives
// and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), "id").Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/mediaforge/transcoder/internal/core JobRepository

// Generate mock for LockService interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=lock_service_mock.go github.com/mediaforge/transcoder/internal/core LockService
