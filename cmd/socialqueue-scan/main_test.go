package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"socialqueue/internal/service"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Run(ctx context.Context, tick time.Time) (service.ScanReport, error) {
	args := m.Called(ctx, tick)
	return args.Get(0).(service.ScanReport), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestHandler_UsesEventTime(t *testing.T) {
	tick := time.Date(2026, 3, 1, 12, 0, 4, 0, time.UTC)
	from, to := service.Window(tick, 0)

	scanner := new(mockScanner)
	scanner.On("Run", mock.Anything, tick).Return(service.ScanReport{
		From: from, To: to, Matched: 3, Succeeded: 2, Failed: 1,
	}, nil)

	resp, err := newHandler(scanner, quietLogger())(context.Background(), events.CloudWatchEvent{Time: tick})

	require.NoError(t, err)
	assert.Equal(t, scanResponse{
		From:      from.Format(time.RFC3339),
		To:        to.Format(time.RFC3339),
		Matched:   3,
		Succeeded: 2,
		Failed:    1,
	}, resp)
	scanner.AssertExpectations(t)
}

func TestHandler_DefaultsToNow(t *testing.T) {
	scanner := new(mockScanner)
	before := time.Now()
	scanner.On("Run", mock.Anything, mock.MatchedBy(func(tick time.Time) bool {
		return !tick.Before(before) && time.Since(tick) < time.Minute
	})).Return(service.ScanReport{}, nil)

	_, err := newHandler(scanner, quietLogger())(context.Background(), events.CloudWatchEvent{})

	require.NoError(t, err)
	scanner.AssertExpectations(t)
}

func TestHandler_ScanError(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("Run", mock.Anything, mock.Anything).Return(service.ScanReport{}, errors.New("query failed"))

	_, err := newHandler(scanner, quietLogger())(context.Background(), events.CloudWatchEvent{Time: time.Now()})

	assert.EqualError(t, err, "query failed")
}

func TestHandler_UnrecordedIsNotAnError(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("Run", mock.Anything, mock.Anything).Return(service.ScanReport{Matched: 1, Succeeded: 1, Unrecorded: 1}, nil)

	resp, err := newHandler(scanner, quietLogger())(context.Background(), events.CloudWatchEvent{Time: time.Now()})

	require.NoError(t, err)
	assert.Equal(t, 1, resp.Unrecorded)
}

func TestLoadConfig_FromPathEnv(t *testing.T) {
	t.Setenv(configPathEnv, "does-not-exist.json")

	_, err := loadConfig()

	assert.Error(t, err)
}
