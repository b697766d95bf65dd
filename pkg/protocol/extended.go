package protocol

import (
	"context"
	"fmt"
	"strings"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Extended implements the EP command set, a superset of Basic.
type Extended struct {
	*Basic
}

// NewExtended creates the Extended protocol for a bound session.
func NewExtended(s *Session) *Extended {
	return &Extended{Basic: NewBasic(s)}
}

// Magic returns "EP".
func (e *Extended) Magic() string { return MagicExtended }

// DeviceInfo requests the device's key/value information.
func (e *Extended) DeviceInfo(ctx context.Context) (map[string]string, error) {
	reply, err := e.request(ctx, "", wire.GetDeviceInfo)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 || reply[0] != wire.DeviceInfo {
		return nil, fmt.Errorf("%w: %s: unexpected reply %q", wire.ErrProtocolMismatch, wire.GetDeviceInfo, reply[0])
	}

	info := make(map[string]string, len(reply)-1)
	for _, kv := range reply[1:] {
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %s: invalid entry %q", wire.ErrProtocolMismatch, wire.GetDeviceInfo, kv)
		}
		info[key] = value
	}
	return info, nil
}

var (
	_ Protocol       = (*Extended)(nil)
	_ DeviceInformer = (*Extended)(nil)
)
