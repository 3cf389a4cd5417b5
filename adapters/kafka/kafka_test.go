package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-bridge/adapters/kafka"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

type record struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	calls []record
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, record{topic, key, value, headers})

	return f.err
}

func TestKafka_BroadcastAndSend(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw, kafka.WithHeaders(map[string]string{"app": "demo"}))

	if err := ad.Broadcast(t.Context(), "example:changes", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if err := ad.Send(t.Context(), "log:info", []byte(`"hi"`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fw.calls) != 2 {
		t.Fatalf("want 2, got %d", len(fw.calls))
	}

	b := fw.calls[0]
	if b.topic != "bridge.example.changes" || string(b.key) != "example:changes" {
		t.Fatalf("topic=%s key=%s", b.topic, b.key)
	}

	if b.headers[kafka.HeaderChannel] != "example:changes" || b.headers[kafka.HeaderKind] != "broadcast" || b.headers["app"] != "demo" {
		t.Fatalf("headers: %+v", b.headers)
	}

	s := fw.calls[1]
	if s.topic != "bridge.log.info" || s.headers[kafka.HeaderKind] != "send" || string(s.value) != `"hi"` {
		t.Fatalf("send record: %+v", s)
	}
}

func TestKafka_Topic(t *testing.T) {
	ad := kafka.New(nil, kafka.WithTopicPrefix(""))

	cases := map[string]string{
		"a:b":            "a.b",
		"a:b:__close":    "a.b.__close",
		"my group:x/y":   "my_group.x_y",
		"Orders-v2:list": "Orders-v2.list",
	}

	for in, want := range cases {
		if got := ad.Topic(in); got != want {
			t.Fatalf("Topic(%q)=%q want %q", in, got, want)
		}
	}
}

func TestKafka_Errors(t *testing.T) {
	if err := kafka.New(nil).Send(t.Context(), "a:b", nil); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}

	fw := &fakeWriter{err: errors.New("broker down")}
	ad := kafka.New(fw)

	if err := ad.Broadcast(t.Context(), "a:b", nil); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	if err := ad.Send(t.Context(), "a:b", nil); !errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("want ErrSendFailed, got %v", err)
	}

	fw.err = context.Canceled
	if err := ad.Broadcast(t.Context(), "a:b", nil); !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("context errors must be returned unwrapped, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	n := len(fw.calls)
	if err := ad.Send(ctx, "a:b", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if len(fw.calls) != n {
		t.Fatalf("cancelled context must not write")
	}
}
