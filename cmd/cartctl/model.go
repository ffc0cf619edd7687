package main

import (
	"context"
	"fmt"
	"strings"

	"fitcart/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

type cartStore interface {
	Snapshot() domain.CartState
	Refresh(ctx context.Context) error
	Add(ctx context.Context, productID string, quantity int) error
	SetQuantity(ctx context.Context, lineID int64, quantity int) error
	Remove(ctx context.Context, lineID int64) error
	Clear(ctx context.Context) error
	Checkout(ctx context.Context) error
}

type tokenSource interface {
	CurrentToken() (string, bool)
}

// stateMsg carries a store notification into the program.
type stateMsg domain.CartState

type opResult struct {
	op  string
	err error
}

type model struct {
	ctx      context.Context
	store    cartStore
	sessions tokenSource

	state    domain.CartState
	selected int
	pending  bool
	adding   bool
	input    string
	status   string
}

func newModel(ctx context.Context, store cartStore, sessions tokenSource) model {
	return model{
		ctx:      ctx,
		store:    store,
		sessions: sessions,
		state:    store.Snapshot(),
		status:   "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return m.run("refresh", m.store.Refresh)
}

func (m model) busy() bool {
	return m.pending || m.state.Loading
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = domain.CartState(msg)
		if m.selected >= len(m.state.Items) {
			m.selected = max(len(m.state.Items)-1, 0)
		}
	case opResult:
		m.pending = false
		m.status = resultStatus(msg)
	case tea.KeyMsg:
		if m.adding {
			return m.updateAdding(msg)
		}
		return m.updateKey(msg)
	}
	return m, nil
}

func (m model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case "down":
		if m.selected < len(m.state.Items)-1 {
			m.selected++
		}
		return m, nil
	}

	if m.busy() {
		return m, nil
	}

	switch msg.String() {
	case "r":
		return m.start("refresh", m.store.Refresh)
	case "a":
		m.adding = true
		m.input = ""
		return m, nil
	case "c":
		return m.start("clear", m.store.Clear)
	case "o":
		return m.start("checkout", m.store.Checkout)
	}

	item, ok := m.current()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "+", "=":
		return m.start("set quantity", func(ctx context.Context) error {
			return m.store.SetQuantity(ctx, item.ID, item.Quantity+1)
		})
	case "-":
		return m.start("set quantity", func(ctx context.Context) error {
			return m.store.SetQuantity(ctx, item.ID, item.Quantity-1)
		})
	case "d":
		return m.start("remove", func(ctx context.Context) error {
			return m.store.Remove(ctx, item.ID)
		})
	}
	return m, nil
}

func (m model) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.adding = false
		m.input = ""
		return m, nil
	case tea.KeyBackspace:
		if m.input != "" {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeyEnter:
		m.adding = false
		productID := m.input
		m.input = ""
		if m.busy() {
			return m, nil
		}
		return m.start("add", func(ctx context.Context) error {
			return m.store.Add(ctx, productID, 1)
		})
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if r >= '0' && r <= '9' {
				m.input += string(r)
			}
		}
	}
	return m, nil
}

func (m model) current() (domain.CartItem, bool) {
	if m.selected < 0 || m.selected >= len(m.state.Items) {
		return domain.CartItem{}, false
	}
	return m.state.Items[m.selected], true
}

func (m model) start(op string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	m.pending = true
	m.status = "Working..."
	return m, m.run(op, fn)
}

func (m model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opResult{op: op, err: fn(ctx)}
	}
}

func resultStatus(r opResult) string {
	if r.err != nil {
		return fmt.Sprintf("%s failed: %s", r.op, domain.UserMessage(r.err))
	}
	if r.op == "checkout" {
		return "Order placed, thank you!"
	}
	return "Ready"
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "fitcart")
	if _, ok := m.sessions.CurrentToken(); ok {
		fmt.Fprintln(b, "Session: logged in")
	} else {
		fmt.Fprintln(b, "Session: logged out (run with -login TOKEN)")
	}
	fmt.Fprintln(b, "")

	if len(m.state.Items) == 0 {
		fmt.Fprintln(b, "  Your cart is empty")
	}
	for i, item := range m.state.Items {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %-28s x%-3d %10s\n", marker, item.Name, item.Quantity, item.LineTotal().StringFixed(2))
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Items: %d  Total: %s\n", m.state.Count, m.state.Total.StringFixed(2))

	if m.state.Loading {
		fmt.Fprintln(b, "Loading...")
	}
	if m.state.Error != "" {
		fmt.Fprintf(b, "Error: %s\n", m.state.Error)
	}
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.adding {
		fmt.Fprintf(b, "Add product id: %s_ (enter to add, esc to cancel)\n", m.input)
	}
	fmt.Fprintln(b, "\nControls: up/down select, +/- quantity, d remove, a add, c clear, o checkout, r refresh, q quit")
	return b.String()
}
