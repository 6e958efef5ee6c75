package membroker

import (
	"testing"

	"github.com/gomcp/corekit/broker"
	"github.com/gomcp/corekit/broker/brokertest"
)

func TestMemoryBroker(t *testing.T) {
	factory := func(t *testing.T) broker.Broker {
		return New()
	}

	brokertest.RunBrokerTests(t, factory)
}
