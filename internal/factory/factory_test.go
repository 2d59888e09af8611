package factory

import (
	"testing"

	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/testutil/testlog"
)

func TestDefaultFactoryBuildsFreshObjects(t *testing.T) {
	testlog.Start(t)
	f := Get()
	if f.NewDeserializer() == f.NewDeserializer() {
		t.Fatalf("deserializers must not be shared")
	}
	if f.NewSerializer() == f.NewSerializer() {
		t.Fatalf("serializers must not be shared")
	}
	ep := f.NewEndpoint("192.168.1.4", 30509, endpoint.ProtocolTCP, endpoint.IPv4)
	if ep.String() != "tcp://192.168.1.4:30509" {
		t.Fatalf("unexpected endpoint: %s", ep)
	}
}
