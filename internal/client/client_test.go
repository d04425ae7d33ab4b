package client

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
)

func TestClickhouseAddr(t *testing.T) {
	tests := []struct {
		raw      string
		secure   bool
		wantAddr string
		wantHost string
	}{
		{"localhost", false, "localhost:9000", "localhost"},
		{"localhost", true, "localhost:9440", "localhost"},
		{"ch.internal:9100", false, "ch.internal:9100", "ch.internal"},
		{"clickhouse://ch.internal", false, "ch.internal:9000", "ch.internal"},
		{"clickhouses://ch.example.com", true, "ch.example.com:9440", "ch.example.com"},
		{"[::1]:9000", false, "[::1]:9000", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			addr, host, err := clickhouseAddr(tt.raw, tt.secure)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantHost, host)
		})
	}

	_, _, err := clickhouseAddr("  ", false)
	assert.Error(t, err)
}

func TestClickhouseOptions(t *testing.T) {
	cfg := &config.Config{
		Environment: config.EnvDevelopment,
		Clickhouse: config.ClickhouseConfig{
			URL:      "clickhouses://ch.example.com",
			Username: "audit",
			Database: "auth",
		},
	}
	opts, err := clickhouseOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch.example.com:9440"}, opts.Addr)
	assert.Equal(t, "auth", opts.Auth.Database)
	require.NotNil(t, opts.TLS)
	assert.Equal(t, "ch.example.com", opts.TLS.ServerName)

	cfg.Clickhouse.URL = "localhost:9000"
	opts, err = clickhouseOptions(cfg)
	require.NoError(t, err)
	assert.Nil(t, opts.TLS)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaProducerProduceMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w, zap.NewNop())

	err := p.ProduceMessage(context.Background(), "auth.notifications",
		[]byte("a@x.com"), []byte(`{"kind":"login_otp"}`), map[string]string{"kind": "login_otp"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "auth.notifications", msg.Topic)
	assert.Equal(t, []byte("a@x.com"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "kind", msg.Headers[0].Key)
	assert.Equal(t, []byte("login_otp"), msg.Headers[0].Value)

	// without brokers there is nothing to probe
	assert.NoError(t, p.HealthCheck(context.Background()))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaProducerWrapsWriteErrors(t *testing.T) {
	cause := errors.New("leader not available")
	p := NewKafkaProducerWithWriter(&fakeWriter{err: cause}, zap.NewNop())

	err := p.ProduceMessage(context.Background(), "t", nil, nil, nil)
	assert.ErrorIs(t, err, cause)
}
