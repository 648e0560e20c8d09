package transport

import (
	"github.com/luma/pubsub/hub"
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT. Without it only a single
	// listener is started.
	Reuseport bool

	// Trace logs every request and reply. This is only useful in local debugging
	Trace bool

	NumListeners int

	// RequirePass enables AUTH. Username is the ACL user accepted by two
	// argument AUTH, "default" when empty.
	RequirePass string
	Username    string

	Hub hub.Hub

	Metrics *Metrics

	Log *zap.Logger
}
