package deepequal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type address struct {
	Street string
	Lines  []string
}

type person struct {
	Name     string
	Age      int
	Born     time.Time
	Home     *address
	Tags     map[string]int
	Scores   [3]float64
	Any      any
	Callback func()
	Cache    string `compare:"-"`
	internal int
}

func basePerson() *person {
	return &person{
		Name:   "ada",
		Age:    36,
		Born:   time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
		Home:   &address{Street: "main", Lines: []string{"a", "b"}},
		Tags:   map[string]int{"x": 1},
		Scores: [3]float64{1, 2, 3},
		Any:    "v",
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *person)
		path   string
		equal  bool
	}{
		{"identical copy", func(p *person) {}, "", true},
		{"scalar field", func(p *person) { p.Age = 37 }, ".Age", false},
		{"nested slice element", func(p *person) { p.Home.Lines[1] = "c" }, ".Home.Lines[1]", false},
		{"slice length", func(p *person) { p.Home.Lines = append(p.Home.Lines, "c") }, ".Home.Lines", false},
		{"nil vs empty slice", func(p *person) { p.Home.Lines = nil }, ".Home.Lines", false},
		{"map value", func(p *person) { p.Tags["x"] = 2 }, `.Tags["x"]`, false},
		{"map key", func(p *person) { p.Tags = map[string]int{"y": 1} }, `.Tags["x"]`, false},
		{"array element", func(p *person) { p.Scores[2] = 4 }, ".Scores[2]", false},
		{"pointer to nil", func(p *person) { p.Home = nil }, ".Home", false},
		{"interface dynamic type", func(p *person) { p.Any = 1 }, ".Any", false},
		{"time same instant other zone", func(p *person) { p.Born = p.Born.In(time.FixedZone("x", 3600)) }, "", true},
		{"time different instant", func(p *person) { p.Born = p.Born.Add(time.Second) }, ".Born", false},
		{"ignored tag", func(p *person) { p.Cache = "changed" }, "", true},
		{"ignored func", func(p *person) { p.Callback = func() {} }, "", true},
		{"ignored unexported", func(p *person) { p.internal = 9 }, "", true},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := basePerson(), basePerson()
			tt.mutate(b)
			path, equal := c.Diff(a, b)
			assert.Equal(t, tt.equal, equal)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.equal, c.Equal(a, b))
		})
	}
}

type node struct {
	Value int
	Next  *node
}

func TestEqual_CyclesTerminate(t *testing.T) {
	a := &node{Value: 1}
	a.Next = a
	b := &node{Value: 1}
	b.Next = b

	assert.True(t, New().Equal(a, b))
}

func TestEqual_BeyondMaxDepthIsChanged(t *testing.T) {
	chain := func(n int) *node {
		var head *node
		for i := 0; i < n; i++ {
			head = &node{Value: i, Next: head}
		}
		return head
	}

	c := New(WithMaxDepth(4))
	assert.Equal(t, 4, c.MaxDepth())
	assert.True(t, c.Equal(chain(1), chain(1)))
	assert.False(t, c.Equal(chain(10), chain(10)), "values deeper than the limit count as changed")
}

func TestEqual_TopLevelValues(t *testing.T) {
	c := New(WithCacheSize(1))

	assert.True(t, c.Equal(nil, nil))
	assert.False(t, c.Equal(nil, 1))
	assert.False(t, c.Equal(1, "1"))
	assert.True(t, c.Equal([]int{1, 2}, []int{1, 2}))
	assert.True(t, c.Equal(map[int]string{1: "a"}, map[int]string{1: "a"}))
}

func TestNew_IgnoresInvalidOptions(t *testing.T) {
	c := New(WithMaxDepth(0), WithCacheSize(-1))
	assert.Equal(t, DefaultMaxDepth, c.MaxDepth())
}

type money struct{ Cents int64 }

func (m *money) Equal(o *money) bool { return m.Cents == o.Cents }

type invoice struct {
	Discount *money
}

func TestEqual_NilPointerWithEqualMethod(t *testing.T) {
	c := New()

	assert.True(t, c.Equal(&invoice{}, &invoice{}))
	assert.True(t, c.Equal(&invoice{Discount: &money{5}}, &invoice{Discount: &money{5}}))
	assert.False(t, c.Equal(&invoice{Discount: &money{5}}, &invoice{Discount: &money{6}}))

	path, equal := c.Diff(&invoice{}, &invoice{Discount: &money{5}})
	assert.False(t, equal)
	assert.Equal(t, ".Discount", path)

	_, equal = c.Diff(&invoice{Discount: &money{5}}, &invoice{})
	assert.False(t, equal)
}
