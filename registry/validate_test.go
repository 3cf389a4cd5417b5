package registry

import (
	"errors"
	"slices"
	"testing"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

func desc(token string, deps ...string) Descriptor {
	d := Descriptor{Token: Token(token), Construct: func([]any) (any, error) { return token, nil }}
	for _, dep := range deps {
		d.Deps = append(d.Deps, Token(dep))
	}

	return d
}

func assertTopological(t *testing.T, ordered []Descriptor) {
	t.Helper()

	pos := make(map[Token]int, len(ordered))
	for i, d := range ordered {
		pos[d.Token] = i
	}

	for _, d := range ordered {
		for _, dep := range d.Deps {
			if pos[dep] >= pos[d.Token] {
				t.Fatalf("%s constructed before its dependency %s: %v", d.Token, dep, tokens(ordered))
			}
		}
	}
}

func tokens(ds []Descriptor) []Token {
	out := make([]Token, len(ds))
	for i, d := range ds {
		out[i] = d.Token
	}

	return out
}

func TestOrder_RespectsDependencies(t *testing.T) {
	batches := [][]Descriptor{
		{desc("b", "a"), desc("a")},
		{desc("d", "b", "c"), desc("b", "a"), desc("c", "a"), desc("a")},
		{desc("e", "d"), desc("d", "c"), desc("c", "b"), desc("b", "a"), desc("a")},
		{desc("x"), desc("app", "db", "log", "cfg"), desc("db", "cfg", "log"), desc("log", "cfg"), desc("cfg")},
	}

	for _, batch := range batches {
		if err := validate(batch); err != nil {
			t.Fatalf("validate: %v", err)
		}

		got := order(batch)
		if len(got) != len(batch) {
			t.Fatalf("order lost descriptors: %v", tokens(got))
		}

		assertTopological(t, got)
	}
}

func TestOrder_KeepsIndependentOrder(t *testing.T) {
	got := tokens(order([]Descriptor{desc("a"), desc("b"), desc("c")}))
	if !slices.Equal(got, []Token{"a", "b", "c"}) {
		t.Fatalf("order=%v", got)
	}
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	in := []Descriptor{desc("b", "a"), desc("a")}
	_ = order(in)

	if in[0].Token != "b" {
		t.Fatalf("input mutated: %v", tokens(in))
	}
}

func TestDepthFirstOrder(t *testing.T) {
	got := depthFirstOrder([]Descriptor{desc("d", "b", "c"), desc("b", "a"), desc("c", "a"), desc("a")})
	assertTopological(t, got)
}

func TestValidate_Cycle(t *testing.T) {
	err := validate([]Descriptor{desc("a", "b"), desc("b", "c"), desc("c", "a")})

	var cycle *CycleDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("want CycleDependencyError, got %v", err)
	}

	if len(cycle.Path) < 3 || cycle.Path[0] != cycle.Path[len(cycle.Path)-1] {
		t.Fatalf("path must start and end with the same token: %v", cycle.Path)
	}

	if !errors.Is(err, berr.ErrCycleDependency) {
		t.Fatalf("want ErrCycleDependency, got %v", err)
	}
}

func TestValidate_CycleBehindAcyclicPrefix(t *testing.T) {
	err := validate([]Descriptor{desc("root", "x"), desc("x", "y"), desc("y", "z"), desc("z", "y")})

	var cycle *CycleDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("want CycleDependencyError, got %v", err)
	}

	if !slices.Equal(cycle.Path, []Token{"y", "z", "y"}) {
		t.Fatalf("path=%v", cycle.Path)
	}
}

func TestValidate_Order(t *testing.T) {
	// self dependency is reported before the missing one
	err := validate([]Descriptor{desc("a", "ghost"), desc("b", "b")})
	if !errors.Is(err, berr.ErrSelfDependency) {
		t.Fatalf("want ErrSelfDependency, got %v", err)
	}

	err = validate([]Descriptor{desc("a", "ghost", "phantom", "b"), desc("b")})

	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingDependencyError, got %v", err)
	}

	if missing.Token != "a" || !slices.Equal(missing.Missing, []Token{"ghost", "phantom"}) {
		t.Fatalf("missing=%+v", missing)
	}

	if !errors.Is(validate([]Descriptor{desc("a"), desc("a")}), berr.ErrDuplicateToken) {
		t.Fatalf("want ErrDuplicateToken")
	}

	if !errors.Is(validate([]Descriptor{{Token: "nil"}}), berr.ErrConstructFailed) {
		t.Fatalf("want ErrConstructFailed for missing constructor")
	}
}

func TestLatch_SetOnce(t *testing.T) {
	l := newLatch()
	if l.ready() {
		t.Fatalf("fresh latch must not be ready")
	}

	if !l.set(nil) {
		t.Fatalf("first set must fire")
	}

	if l.set(errors.New("late")) {
		t.Fatalf("second set must be dropped")
	}

	if err := l.wait(t.Context()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if !l.ready() {
		t.Fatalf("latch must be ready")
	}
}
