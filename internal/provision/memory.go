// ABOUTME: In-process provisioner with fixed addresses and failure injection
// ABOUTME: Serves the static backend and every orchestrator test

package provision

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is a Provisioner that keeps stacks in a map. Stacks "complete"
// immediately; the address output comes from the configured address map.
type Memory struct {
	mu            sync.Mutex
	prefix        string
	addressOutput string
	addresses     map[string]string
	stacks        map[string]*memoryStack

	failCreate map[string]error
	failUpdate map[string]error
	deleted    []string
	updates    map[string]int
}

type memoryStack struct {
	cellID   string
	imageRef string
	outputs  map[string]string
}

// NewMemory creates an in-memory provisioner. addresses maps cell id to the
// value reported under addressOutput.
func NewMemory(prefix, addressOutput string, addresses map[string]string) *Memory {
	m := &Memory{
		prefix:        prefix,
		addressOutput: addressOutput,
		addresses:     make(map[string]string, len(addresses)),
		stacks:        make(map[string]*memoryStack),
		failCreate:    make(map[string]error),
		failUpdate:    make(map[string]error),
		updates:       make(map[string]int),
	}
	for id, addr := range addresses {
		m.addresses[id] = addr
	}
	return m
}

// FailCreate makes CreateStack for cellID fail with err after starting the stack
func (m *Memory) FailCreate(cellID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate[cellID] = err
}

// FailUpdate makes UpdateStack for cellID fail with err
func (m *Memory) FailUpdate(cellID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdate[cellID] = err
}

// SetAddress sets the address a cell's stack reports
func (m *Memory) SetAddress(cellID, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[cellID] = address
	if st, ok := m.stacks[StackName(m.prefix, cellID)]; ok {
		st.outputs[m.addressOutput] = address
	}
}

// Register records an existing stack, as if created out of band
func (m *Memory) Register(cellID, imageRef string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putStack(cellID, imageRef)
}

func (m *Memory) putStack(cellID, imageRef string) string {
	ref := StackName(m.prefix, cellID)
	outputs := map[string]string{}
	if addr, ok := m.addresses[cellID]; ok {
		outputs[m.addressOutput] = addr
	}
	m.stacks[ref] = &memoryStack{cellID: cellID, imageRef: imageRef, outputs: outputs}
	return ref
}

// CreateStack records the stack, or fails as injected
func (m *Memory) CreateStack(ctx context.Context, spec StackSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := m.putStack(spec.CellID, spec.ImageRef)
	if err := m.failCreate[spec.CellID]; err != nil {
		return ref, fmt.Errorf("creating stack %s: %w", ref, err)
	}
	return ref, nil
}

// UpdateStack changes the stack's image. Updating to the same image is a no-op.
func (m *Memory) UpdateStack(ctx context.Context, stackRef string, spec StackSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stacks[stackRef]
	if !ok {
		return fmt.Errorf("updating %s: %w", stackRef, ErrStackNotFound)
	}
	if err := m.failUpdate[st.cellID]; err != nil {
		return fmt.Errorf("updating stack %s: %w", stackRef, err)
	}
	if spec.ImageRef != "" {
		st.imageRef = spec.ImageRef
	}
	m.updates[st.cellID]++
	return nil
}

// DeleteStack removes the stack. Deleting a missing stack succeeds.
func (m *Memory) DeleteStack(ctx context.Context, stackRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stacks, stackRef)
	m.deleted = append(m.deleted, stackRef)
	return nil
}

// Output returns a stack output
func (m *Memory) Output(ctx context.Context, stackRef, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stacks[stackRef]
	if !ok {
		return "", fmt.Errorf("reading %s: %w", stackRef, ErrStackNotFound)
	}
	v, ok := st.outputs[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%s on %s: %w", key, stackRef, ErrOutputNotFound)
	}
	return v, nil
}

// Stacks returns the refs of live stacks, sorted
func (m *Memory) Stacks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.stacks))
	for ref := range m.stacks {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Deleted returns every stack ref DeleteStack was called with, in order
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Image returns the image a stack runs
func (m *Memory) Image(stackRef string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stacks[stackRef]; ok {
		return st.imageRef
	}
	return ""
}

// Updates returns how many successful updates a cell's stack received
func (m *Memory) Updates(cellID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[cellID]
}
