package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/insurance-engine/insurance"
)

// =============================================================================
// GRAPH - In-memory GraphStore
// =============================================================================

// policyNode keeps a Policy with its two incoming edges. An empty clientID
// means the HAS_POLICY edge was detached.
type policyNode struct {
	policy   insurance.Policy
	clientID string
	agentID  string
}

// accidentNode keeps an Accident with its HAS_ACCIDENT edge.
type accidentNode struct {
	accident insurance.Accident
	policy   string
}

type graphState struct {
	users     map[string]insurance.User
	agents    map[string]insurance.Agent
	policies  map[string]policyNode
	accidents map[string]accidentNode
}

func (s graphState) clone() graphState {
	out := graphState{
		users:     make(map[string]insurance.User, len(s.users)),
		agents:    make(map[string]insurance.Agent, len(s.agents)),
		policies:  make(map[string]policyNode, len(s.policies)),
		accidents: make(map[string]accidentNode, len(s.accidents)),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.agents {
		out.agents[k] = v
	}
	for k, v := range s.policies {
		out.policies[k] = v
	}
	for k, v := range s.accidents {
		out.accidents[k] = v
	}
	return out
}

type Graph struct {
	faults
	mu     sync.Mutex
	state  graphState
	writes int
}

func NewGraph() *Graph {
	return &Graph{state: graphState{}.clone()}
}

// PutAgent stores an agent node; agents are seeded outside the core.
func (g *Graph) PutAgent(a insurance.Agent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.agents[a.ID] = a
}

// UpsertAgent creates or replaces an agent node.
func (g *Graph) UpsertAgent(_ context.Context, a insurance.Agent) error {
	if err := g.take("UpsertAgent"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.agents[a.ID] = a
	g.writes++
	return nil
}

func (g *Graph) Agent(id string) (insurance.Agent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.state.agents[id]
	return a, ok
}

// PutUser stores a user node directly, bypassing every check.
func (g *Graph) PutUser(u insurance.User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.users[u.ID] = u
}

// PutPolicy stores a policy node with its edges, bypassing every check.
func (g *Graph) PutPolicy(p insurance.Policy, clientID, agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.AgentID = ""
	g.state.policies[p.Number] = policyNode{policy: p, clientID: clientID, agentID: agentID}
}

func (g *Graph) User(id string) (insurance.User, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.state.users[id]
	return u, ok
}

// Policy returns a policy node and the ids at the other end of its edges.
func (g *Graph) Policy(number string) (p insurance.Policy, clientID, agentID string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.state.policies[number]
	return n.policy, n.clientID, n.agentID, ok
}

// Accident returns an accident node and the policy it hangs from.
func (g *Graph) Accident(id string) (insurance.Accident, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.state.accidents[id]
	return n.accident, n.policy, ok
}

func (g *Graph) CountUsers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.state.users)
}

func (g *Graph) CountPolicies() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.state.policies)
}

func (g *Graph) CountAccidents() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.state.accidents)
}

// Writes returns the number of committed mutations.
func (g *Graph) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}

func (g *Graph) WithWriteTx(ctx context.Context, fn func(ctx context.Context, tx insurance.GraphTx) error) error {
	if err := g.take("WithWriteTx"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &graphTx{faults: &g.faults, st: g.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	g.state = tx.st
	g.writes += tx.writes
	return nil
}

func (g *Graph) CreateUser(_ context.Context, u insurance.User) error {
	if err := g.take("CreateUser"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.state.users[u.ID]; exists {
		return fmt.Errorf("create user %s: %w", u.ID, insurance.ErrIDCollision)
	}
	g.state.users[u.ID] = u
	g.writes++
	return nil
}

func (g *Graph) UpdateUser(_ context.Context, id string, patch insurance.UserPatch) error {
	if err := g.take("UpdateUser"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.state.users[id]
	if !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id, Store: "graph store"}
	}
	patch.ApplyTo(&u)
	g.state.users[id] = u
	g.writes++
	return nil
}

func (g *Graph) DeleteUser(_ context.Context, id string) error {
	if err := g.take("DeleteUser"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.state.users[id]; !ok {
		return &insurance.NotFoundError{Kind: insurance.KindClient, ID: id, Store: "graph store"}
	}
	delete(g.state.users, id)
	for number, n := range g.state.policies {
		if n.clientID == id {
			n.clientID = ""
			g.state.policies[number] = n
		}
	}
	g.writes++
	return nil
}

func (g *Graph) RestoreUser(_ context.Context, u insurance.User) error {
	if err := g.take("RestoreUser"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.users[u.ID] = u
	g.writes++
	return nil
}

func (g *Graph) DeletePolicy(_ context.Context, number string) error {
	if err := g.take("DeletePolicy"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.state.policies[number]; !ok {
		return nil
	}
	delete(g.state.policies, number)
	for id, a := range g.state.accidents {
		if a.policy == number {
			a.policy = ""
			g.state.accidents[id] = a
		}
	}
	g.writes++
	return nil
}

// graphTx is the write-transaction view over a private copy of the graph.
type graphTx struct {
	*faults
	st     graphState
	writes int
}

func (t *graphTx) MaxPolicyNumber(_ context.Context) (int64, bool, error) {
	if err := t.take("tx.MaxPolicyNumber"); err != nil {
		return 0, false, err
	}
	var max int64
	found := false
	for number := range t.st.policies {
		if n, ok := insurance.ParsePolicyNumber(number); ok {
			if !found || n > max {
				max = n
			}
			found = true
		}
	}
	return max, found, nil
}

// blockingPolicy prefers an Activa policy over a Suspendida one.
func (t *graphTx) blockingPolicy(clientID string, tipo insurance.PolicyType) (policyNode, bool) {
	var suspended policyNode
	found := false
	for _, n := range t.st.policies {
		if n.clientID != clientID || n.policy.Tipo != tipo || !n.policy.Estado.Blocking() {
			continue
		}
		if n.policy.Estado == insurance.PolicyActive {
			return n, true
		}
		suspended, found = n, true
	}
	return suspended, found
}

func (t *graphTx) CreatePolicy(_ context.Context, p insurance.Policy, clientID, agentID string) (bool, error) {
	if err := t.take("tx.CreatePolicy"); err != nil {
		return false, err
	}
	agent, ok := t.st.agents[agentID]
	if !ok || !agent.Activo {
		return false, nil
	}
	user, ok := t.st.users[clientID]
	if !ok || !user.Activo {
		return false, nil
	}
	if _, blocked := t.blockingPolicy(clientID, p.Tipo); blocked {
		return false, nil
	}
	if _, exists := t.st.policies[p.Number]; exists {
		return false, fmt.Errorf("create policy %s: %w", p.Number, insurance.ErrIDCollision)
	}
	p.AgentID = ""
	t.st.policies[p.Number] = policyNode{policy: p, clientID: clientID, agentID: agentID}
	t.writes++
	return true, nil
}

func (t *graphTx) DiagnosePolicy(_ context.Context, clientID, agentID string, tipo insurance.PolicyType) (insurance.PolicyDiagnosis, error) {
	if err := t.take("tx.DiagnosePolicy"); err != nil {
		return insurance.PolicyDiagnosis{}, err
	}
	var d insurance.PolicyDiagnosis
	agent, ok := t.st.agents[agentID]
	d.AgentMissing = !ok
	d.AgentInactive = ok && !agent.Activo
	user, ok := t.st.users[clientID]
	d.ClientMissing = !ok
	d.ClientInactive = ok && !user.Activo
	if ok {
		if n, blocked := t.blockingPolicy(clientID, tipo); blocked {
			d.ExistingStatus = n.policy.Estado
			d.ExistingNumber = n.policy.Number
		}
	}
	return d, nil
}

func (t *graphTx) MaxAccidentID(_ context.Context) (int64, error) {
	if err := t.take("tx.MaxAccidentID"); err != nil {
		return 0, err
	}
	var max int64
	for id := range t.st.accidents {
		if n := insurance.ParseID(id); n > max {
			max = n
		}
	}
	return max, nil
}

func (t *graphTx) CreateAccident(_ context.Context, policyNumber string, a insurance.Accident) (bool, error) {
	if err := t.take("tx.CreateAccident"); err != nil {
		return false, err
	}
	if _, ok := t.st.policies[policyNumber]; !ok {
		return false, nil
	}
	if _, exists := t.st.accidents[a.ID]; exists {
		return false, fmt.Errorf("create accident %s: %w", a.ID, insurance.ErrIDCollision)
	}
	t.st.accidents[a.ID] = accidentNode{accident: a, policy: policyNumber}
	t.writes++
	return true, nil
}
