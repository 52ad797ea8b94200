package logging_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/gt"
)

func TestLevels(t *testing.T) {
	testCases := []struct {
		level string
		shown []string
		muted []string
	}{
		{"debug", []string{"msg-dbg", "msg-inf", "msg-wrn", "msg-err"}, nil},
		{"info", []string{"msg-inf", "msg-wrn", "msg-err"}, []string{"msg-dbg"}},
		{"warning", []string{"msg-wrn", "msg-err"}, []string{"msg-dbg", "msg-inf"}},
		{"error", []string{"msg-err"}, []string{"msg-dbg", "msg-inf", "msg-wrn"}},
		{"DEBUG", []string{"msg-dbg"}, nil},
		{"verbose", []string{"msg-inf"}, []string{"msg-dbg"}},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)
			logger.Debug("msg-dbg")
			logger.Info("msg-inf")
			logger.Warn("msg-wrn")
			logger.Error("msg-err")

			for _, s := range tc.shown {
				gt.S(t, buf.String()).Contains(s)
			}
			for _, s := range tc.muted {
				gt.S(t, buf.String()).NotContains(s)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := logging.NewWithFormat("info", logging.FormatJSON, buf)
		logger.Info("session started", "session_id", "session_1_100")
		logger.Debug("hidden")

		gt.S(t, buf.String()).Contains(`"msg":"session started"`)
		gt.S(t, buf.String()).Contains(`"session_id":"session_1_100"`)
		gt.S(t, buf.String()).NotContains("hidden")
	})

	t.Run("unknown falls back to console", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logging.NewWithFormat("info", logging.Format("xml"), buf).Info("console line")
		gt.S(t, buf.String()).Contains("console line")
		gt.S(t, buf.String()).NotContains(`"msg"`)
	})
}

func TestContext(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf).With("agent", "SearchAgent")

	ctx := logging.With(context.Background(), logger)
	gt.Equal(t, logging.From(ctx), logger)

	logging.From(ctx).Info("search done")
	gt.S(t, buf.String()).Contains("search done")
	gt.S(t, buf.String()).Contains("SearchAgent")
}

func TestDefaultLogger(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	replaced := logging.New("warn", buf)
	logging.SetDefault(replaced)

	gt.Equal(t, logging.Default(), replaced)
	// a context without a logger falls back to the default one
	gt.Equal(t, logging.From(context.Background()), replaced)

	logging.From(context.Background()).Warn("from default")
	gt.S(t, buf.String()).Contains("from default")
}
