package routing

// OperationKind names a class of unit of work for routing purposes.
type OperationKind string

const (
	KindHealth     OperationKind = "health"
	KindTenantData OperationKind = "tenant_data"
	// KindSession serves callers that may or may not carry a tenant.
	KindSession OperationKind = "session"
)

// Mode is where an operation kind's connections come from.
type Mode int

const (
	// ModeTenantRequired routes to the tenant database and fails without a
	// resolvable tenant. It is the zero value, so unknown kinds fail closed.
	ModeTenantRequired Mode = iota
	// ModeTenantPreferred routes to the tenant database and falls back to
	// the control plane when no tenant resolves.
	ModeTenantPreferred
	// ModeControlPlane always uses the control-plane pool.
	ModeControlPlane
)

func (m Mode) String() string {
	switch m {
	case ModeTenantRequired:
		return "tenant_required"
	case ModeTenantPreferred:
		return "tenant_preferred"
	case ModeControlPlane:
		return "control_plane"
	default:
		return "unknown"
	}
}

// Policy maps operation kinds to routing modes.
type Policy map[OperationKind]Mode

// DefaultPolicy is the table used by the API server.
func DefaultPolicy() Policy {
	return Policy{
		KindHealth:     ModeControlPlane,
		KindSession:    ModeTenantPreferred,
		KindTenantData: ModeTenantRequired,
	}
}

// Mode returns the mode for kind; kinds missing from the table are tenant-required.
func (p Policy) Mode(kind OperationKind) Mode {
	if m, ok := p[kind]; ok {
		return m
	}
	return ModeTenantRequired
}
