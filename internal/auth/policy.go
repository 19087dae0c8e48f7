package auth

// Tier is one rung of the escalation lattice.
type Tier struct {
	// Role is the requested role this tier gates.
	Role string
	// Approver is the role an approving principal must hold.
	Approver string
	// Bootstrap auto-approves the request when no approver exists yet.
	Bootstrap bool
	// FirstApproverOnly restricts approval to the oldest approved holder
	// of the approver role.
	FirstApproverOnly bool
}

// Policy is an ordered list of tiers, highest precedence first.
type Policy []Tier

// EscalationPolicy is the admin → supervisor → operator chain. Only the
// very first admin may self-approve.
var EscalationPolicy = Policy{
	{Role: RoleAdmin, Approver: RoleAdmin, Bootstrap: true, FirstApproverOnly: true},
	{Role: RoleSupervisor, Approver: RoleAdmin},
	{Role: RoleOperator, Approver: RoleSupervisor},
}

// TierFor returns the highest-precedence tier matching any of roles.
// Unranked role sets report false and need no approval.
func (p Policy) TierFor(roles []string) (Tier, bool) {
	for _, tier := range p {
		if containsRole(roles, tier.Role) {
			return tier, true
		}
	}
	return Tier{}, false
}

// CanApprove reports whether actor may decide on a request gated by t.
// firstApprover is the oldest approved holder of t.Approver, if any.
func (t Tier) CanApprove(actor Principal, firstApprover *Account) bool {
	if !actor.HasRole(t.Approver) {
		return false
	}
	if t.FirstApproverOnly {
		return firstApprover != nil && firstApprover.ID == actor.ID()
	}
	return true
}
