package oauthbroker

import "github.com/basaltrun/toolfed/backend"

var _ backend.AuthBroker = (*Broker)(nil)
