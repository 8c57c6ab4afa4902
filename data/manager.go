package data

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
)

// MemoryManager splits in-memory train/test pools into tasks. The class
// order is the sorted set of train labels, optionally shuffled with Seed.
type MemoryManager struct {
	train, test *Dataset
	names       map[int]string

	initClass, increment int
	augNoise             float64
	seed                 int64
	draws                int64

	order     []int
	cat2order map[int]int
}

type ManagerOptions struct {
	InitClass int
	Increment int
	Seed      int64
	Shuffle   bool
	// AugNoise is the std of the Gaussian jitter added by the train source.
	AugNoise float64
	// Names maps raw class ids to readable names; missing ids print as
	// numbers.
	Names map[int]string
}

func NewMemoryManager(train, test *Dataset, opts ManagerOptions) (*MemoryManager, error) {
	if err := train.Check(); err != nil {
		return nil, fmt.Errorf("train pool: %w", err)
	}
	if err := test.Check(); err != nil {
		return nil, fmt.Errorf("test pool: %w", err)
	}
	if opts.InitClass <= 0 || opts.Increment <= 0 {
		return nil, fmt.Errorf("data: invalid task split %d/%d", opts.InitClass, opts.Increment)
	}
	seen := map[int]bool{}
	var order []int
	for _, l := range train.Labels {
		if !seen[l] {
			seen[l] = true
			order = append(order, l)
		}
	}
	sort.Ints(order)
	if opts.Shuffle {
		r := rand.New(rand.NewSource(opts.Seed))
		r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	if len(order) < opts.InitClass {
		return nil, fmt.Errorf("data: %d classes available, init_class is %d", len(order), opts.InitClass)
	}
	m := &MemoryManager{
		train:     train,
		test:      test,
		names:     opts.Names,
		initClass: opts.InitClass,
		increment: opts.Increment,
		augNoise:  opts.AugNoise,
		seed:      opts.Seed,
		order:     order,
		cat2order: make(map[int]int, len(order)),
	}
	for i, c := range order {
		m.cat2order[c] = i
	}
	return m, nil
}

// Order returns the class order, raw ids by order index.
func (m *MemoryManager) Order() []int {
	out := make([]int, len(m.order))
	copy(out, m.order)
	return out
}

// NumTasks is the number of tasks the class order covers.
func (m *MemoryManager) NumTasks() int {
	n := len(m.order)
	if n <= m.initClass {
		return 1
	}
	return 1 + (n-m.initClass+m.increment-1)/m.increment
}

func (m *MemoryManager) MapCat2Order(raw int) (int, error) {
	o, ok := m.cat2order[raw]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCategory, raw)
	}
	return o, nil
}

func (m *MemoryManager) GetTaskList(task int) ([]int, []int, []string, error) {
	if task < 0 {
		return nil, nil, nil, fmt.Errorf("data: negative task %d", task)
	}
	start, end := 0, m.initClass
	if task > 0 {
		start = m.initClass + (task-1)*m.increment
		end = start + m.increment
	}
	if start >= len(m.order) {
		return nil, nil, nil, fmt.Errorf("data: task %d beyond the %d available classes", task, len(m.order))
	}
	end = min(end, len(m.order))
	train := append([]int(nil), m.order[start:end]...)
	test := append([]int(nil), m.order[:end]...)
	names := make([]string, len(train))
	for i, c := range train {
		if n, ok := m.names[c]; ok {
			names[i] = n
		} else {
			names[i] = strconv.Itoa(c)
		}
	}
	return train, test, names, nil
}

func (m *MemoryManager) GetTaskData(source Source, classList []int) (*Dataset, error) {
	switch source {
	case SourceTrain:
		ds := m.train.Subset(classList)
		m.augment(ds)
		return ds, nil
	case SourceTrainNoAug:
		return m.train.Subset(classList), nil
	case SourceTest:
		return m.test.Subset(classList), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
}

// augment jitters inputs with Gaussian noise. Every call draws from a fresh
// seeded stream so runs are reproducible.
func (m *MemoryManager) augment(ds *Dataset) {
	if m.augNoise <= 0 {
		return
	}
	m.draws++
	r := rand.New(rand.NewSource(m.seed + m.draws))
	for _, in := range ds.Inputs {
		for j := range in {
			in[j] += r.NormFloat64() * m.augNoise
		}
	}
}
