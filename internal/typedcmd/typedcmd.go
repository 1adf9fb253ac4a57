// Package typedcmd supplies a minimal typed command layer over
// resp.Value envelopes covering Get/Set/Expire/Del: request envelope
// builders plus decoders for their replies. It does no dispatch of its
// own; that goes through gateway.Gateway.Dispatch or
// router.Router.Dispatch directly.
//
// Del always emits the literal token "DEL" as the request's first
// element, independent of Expire's own envelope construction — the two
// must never share a builder, since that's an easy way to end up
// sending the wrong verb for one of them.
package typedcmd

import (
	"fmt"
	"time"

	"clustergate/internal/resp"
)

// Get builds a GET request envelope.
func Get(key string) resp.Value {
	return resp.NewCommand("GET", key)
}

// Set builds a SET request envelope, with an optional TTL (0 means no
// expiry).
func Set(key, value string, ttl time.Duration) resp.Value {
	if ttl <= 0 {
		return resp.NewCommand("SET", key, value)
	}
	return resp.NewCommand("SET", key, value, "PX", fmt.Sprintf("%d", ttl.Milliseconds()))
}

// Expire builds an EXPIRE request envelope.
func Expire(key string, ttl time.Duration) resp.Value {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return resp.NewCommand("EXPIRE", key, fmt.Sprintf("%d", seconds))
}

// Del builds a DEL request envelope.
func Del(key string) resp.Value {
	return resp.NewCommand("DEL", key)
}

// GetReply decodes a GET reply: present=false on a nil bulk string.
func GetReply(v resp.Value) (value []byte, present bool, err error) {
	switch v.Kind {
	case resp.KindNil:
		return nil, false, nil
	case resp.KindBulkString:
		return v.Bulk, true, nil
	case resp.KindError:
		return nil, false, fmt.Errorf("typedcmd: GET error reply: %s", v.Str)
	default:
		return nil, false, fmt.Errorf("typedcmd: unexpected GET reply kind %v", v.Kind)
	}
}

// SetReply decodes a SET reply: ok=false means the conditional SET
// variant declined to write (a nil bulk reply), which this layer never
// triggers on its own but callers building custom envelopes may see.
func SetReply(v resp.Value) (ok bool, err error) {
	switch v.Kind {
	case resp.KindSimpleString:
		return true, nil
	case resp.KindNil:
		return false, nil
	case resp.KindError:
		return false, fmt.Errorf("typedcmd: SET error reply: %s", v.Str)
	default:
		return false, fmt.Errorf("typedcmd: unexpected SET reply kind %v", v.Kind)
	}
}

// DelReply decodes a DEL/EXPIRE reply: the count of keys affected.
func DelReply(v resp.Value) (count int64, err error) {
	switch v.Kind {
	case resp.KindInteger:
		return v.Int, nil
	case resp.KindError:
		return 0, fmt.Errorf("typedcmd: DEL error reply: %s", v.Str)
	default:
		return 0, fmt.Errorf("typedcmd: unexpected DEL reply kind %v", v.Kind)
	}
}
