package jaeger_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/absmach/fedguard/pkg/jaeger"
	"github.com/stretchr/testify/assert"
)

func TestNewProviderRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc    string
		svcName string
		url     url.URL
	}{
		{desc: "empty url", svcName: "coordinator"},
		{desc: "empty service name", url: url.URL{Scheme: "http", Host: "localhost:4318"}},
		{desc: "unsupported scheme", svcName: "coordinator", url: url.URL{Scheme: "udp", Host: "localhost:6831"}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			tp, err := jaeger.NewProvider(context.Background(), tc.svcName, tc.url, "", 1)
			assert.Error(t, err)
			assert.Nil(t, tp)
		})
	}
}
