package message

import (
	"fmt"
	"sync"
)

// versionedDecoder pairs a decoder with the inclusive version range it
// supports, so parsing picks the right wrapper for the negotiated
// protocol version.
type versionedDecoder struct {
	minVersion uint32
	maxVersion uint32 // 0 means "no upper bound"
	decode     Decoder
}

// Registry binds (domain, sub-tag) pairs to one or more versioned decoders.
// It is the Go analogue of whad.hub.Registry / ProtocolHub.bound: callers
// register every sub-message type once at init time, then resolve by
// protocol version at parse time.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string][]versionedDecoder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string][]versionedDecoder)}
}

func key(domain Domain, subTag string) string {
	return string(domain) + "/" + subTag
}

// Register binds a decoder to a domain/sub-tag for the version range
// [minVersion, maxVersion]. maxVersion of 0 means unbounded.
func (r *Registry) Register(domain Domain, subTag string, minVersion, maxVersion uint32, decode Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(domain, subTag)
	r.decoders[k] = append(r.decoders[k], versionedDecoder{
		minVersion: minVersion,
		maxVersion: maxVersion,
		decode:     decode,
	})
}

// Resolve returns the decoder bound to domain/subTag that covers version. If
// no decoder is registered for the exact sub-tag, it falls back to a "*"
// wildcard registered for the domain (used by role-start commands whose
// tag varies per role but whose wire shape is decoder-agnostic). Returns
// ErrUnboundBody if neither matches.
func (r *Registry) Resolve(domain Domain, subTag string, version uint32) (Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := resolveIn(r.decoders[key(domain, subTag)], version); ok {
		return d, nil
	}
	if subTag != "*" {
		if d, ok := resolveIn(r.decoders[key(domain, "*")], version); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s v%d", ErrUnboundBody, domain, subTag, version)
}

func resolveIn(candidates []versionedDecoder, version uint32) (Decoder, bool) {
	for _, vd := range candidates {
		if version < vd.minVersion {
			continue
		}
		if vd.maxVersion != 0 && version > vd.maxVersion {
			continue
		}
		return vd.decode, true
	}
	return nil, false
}

// Hub is a Registry bound to a single negotiated protocol version, the Go
// analogue of ProtocolHub(proto_version). Devices hold one Hub per open
// session once DeviceInfoResp reports the peer's protocol version.
type Hub struct {
	registry *Registry
	version  uint32
}

// NewHub binds registry to a specific protocol version.
func NewHub(registry *Registry, version uint32) *Hub {
	return &Hub{registry: registry, version: version}
}

// Version returns the protocol version this hub negotiates against.
func (h *Hub) Version() uint32 { return h.version }

// Parse decodes a raw framed payload into a typed Message using the bound
// registry and this hub's protocol version.
func (h *Hub) Parse(data []byte) (*Message, error) {
	domain, subTag, _, body, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	decode, err := h.registry.Resolve(domain, subTag, h.version)
	if err != nil {
		return nil, err
	}
	b, err := decode(h.version, subTag, body)
	if err != nil {
		return nil, fmt.Errorf("message: decode %s/%s: %w", domain, subTag, err)
	}
	return &Message{Domain: domain, SubTag: subTag, Version: h.version, Body: b}, nil
}

// Build wraps an already-constructed Body into an envelope at this hub's
// protocol version, ready for Encode.
func (h *Hub) Build(body Body) *Message {
	return &Message{
		Domain:  body.BodyDomain(),
		SubTag:  body.SubTag(),
		Version: h.version,
		Body:    body,
	}
}

// global is the process-wide registry that domain packages register their
// message types into via init(). Device sessions create per-connection Hubs
// over it once the peer's protocol version is known.
var global = NewRegistry()

// Global returns the shared Registry that all domain packages register
// their wrappers into at init time.
func Global() *Registry { return global }
