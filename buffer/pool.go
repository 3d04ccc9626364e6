package buffer

import (
	"fmt"
	"sync"
	"unsafe"
)

// Alloc is a pooled host allocation used to back pipeline-owned buffers,
// typically the outputs an extern function writes through. The allocation
// keeps its backing array reachable so descriptors built over it stay valid
// for the lifetime of the Alloc.
type Alloc struct {
	data []byte
	size int
	pool *Pool
}

// Pointer returns the base address of the allocation
func (a *Alloc) Pointer() unsafe.Pointer {
	if a.data == nil {
		panic("allocation already released")
	}
	return unsafe.Pointer(unsafe.SliceData(a.data))
}

// Bytes returns the allocation's memory as a byte slice
func (a *Alloc) Bytes() []byte {
	return a.data
}

// Size returns the usable size in bytes
func (a *Alloc) Size() int {
	return a.size
}

// Descriptor builds a dense descriptor of the given element type and extents
// over the allocation. Fails if the shape does not fit the allocation.
func (a *Alloc) Descriptor(elem ElementType, extents ...int64) (*Descriptor, error) {
	if a.data == nil {
		return nil, fmt.Errorf("allocation already released")
	}
	d := &Descriptor{
		Elem: elem,
		Dims: DenseDims(extents...),
		Data: a.Pointer(),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	need := d.NumElements() * int64(elem.Size())
	if need > int64(len(a.data)) {
		return nil, fmt.Errorf("shape %v of %s needs %d bytes, allocation has %d",
			extents, elem, need, len(a.data))
	}
	return d, nil
}

// Pool manages reusable host allocations of a single size class
type Pool struct {
	free      chan []byte
	maxAllocs int
	allocSize int
	allocated int
	mutex     sync.Mutex
}

// NewPool creates a pool of allocations of allocSize bytes, at most
// maxAllocs outstanding
func NewPool(allocSize int, maxAllocs int) *Pool {
	return &Pool{
		free:      make(chan []byte, maxAllocs),
		maxAllocs: maxAllocs,
		allocSize: allocSize,
	}
}

// Get retrieves an allocation from the pool or allocates a new one
func (p *Pool) Get() ([]byte, error) {
	select {
	case data := <-p.free:
		return data, nil
	default:
		p.mutex.Lock()
		canAllocate := p.allocated < p.maxAllocs
		if canAllocate {
			p.allocated++
		}
		p.mutex.Unlock()

		if !canAllocate {
			return nil, fmt.Errorf("pool at capacity (%d)", p.maxAllocs)
		}

		return make([]byte, p.allocSize), nil
	}
}

// Return puts an allocation back into the pool
func (p *Pool) Return(data []byte) {
	if data == nil {
		return
	}

	select {
	case p.free <- data:
		// Successfully returned to pool
	default:
		// Pool is full, let the allocation be collected
		p.mutex.Lock()
		p.allocated--
		p.mutex.Unlock()
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() (available int, allocated int, maxAllocs int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.free), p.allocated, p.maxAllocs
}

// Allocator hands out pooled host allocations by size class, the smallest
// class that accommodates the request
type Allocator struct {
	pools      map[int]*Pool
	poolsMutex sync.RWMutex
	sizes      []int
}

// Size classes: 1KB, 4KB, 16KB, 64KB, 256KB, 1MB, 4MB, 16MB, 64MB
var defaultSizeClasses = []int{
	1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864,
}

// NewAllocator creates an allocator with the default size classes
func NewAllocator() *Allocator {
	return &Allocator{
		pools: make(map[int]*Pool),
		sizes: defaultSizeClasses,
	}
}

// Alloc returns an allocation of at least size bytes
func (al *Allocator) Alloc(size int) (*Alloc, error) {
	if size <= 0 {
		return nil, fmt.Errorf("allocation size must be positive, got %d", size)
	}

	classSize := al.findSizeClass(size)
	pool := al.getOrCreatePool(classSize)

	data, err := pool.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes: %v", size, err)
	}

	return &Alloc{data: data, size: size, pool: pool}, nil
}

// AllocFor returns an allocation sized for a dense buffer of the given
// element type and extents
func (al *Allocator) AllocFor(elem ElementType, extents ...int64) (*Alloc, error) {
	elements := int64(1)
	for _, extent := range extents {
		if extent < 0 {
			return nil, fmt.Errorf("negative extent %d", extent)
		}
		var ok bool
		if elements, ok = mulInt64(elements, extent); !ok {
			return nil, fmt.Errorf("element count for extents %v overflows", extents)
		}
	}

	bytes, ok := mulInt64(elements, int64(elem.Size()))
	if !ok || bytes > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("byte size for extents %v of %s overflows", extents, elem)
	}
	if bytes == 0 {
		bytes = int64(elem.Size()) // zero-element shapes still get a valid base pointer
	}
	return al.Alloc(int(bytes))
}

// Release returns an allocation to its pool. The allocation must not be used
// afterwards; descriptors built over it become dangling.
func (al *Allocator) Release(a *Alloc) {
	if a == nil || a.data == nil {
		return
	}
	a.pool.Return(a.data)
	a.data = nil
}

// findSizeClass finds the smallest class that can accommodate the request
func (al *Allocator) findSizeClass(size int) int {
	for _, classSize := range al.sizes {
		if classSize >= size {
			return classSize
		}
	}
	// Larger than the largest class, use the requested size
	return size
}

// getOrCreatePool gets an existing pool or creates a new one
func (al *Allocator) getOrCreatePool(classSize int) *Pool {
	al.poolsMutex.RLock()
	pool, exists := al.pools[classSize]
	al.poolsMutex.RUnlock()

	if exists {
		return pool
	}

	al.poolsMutex.Lock()
	defer al.poolsMutex.Unlock()

	// Double-check after acquiring write lock
	if pool, exists := al.pools[classSize]; exists {
		return pool
	}

	pool = NewPool(classSize, maxAllocsForSize(classSize))
	al.pools[classSize] = pool

	return pool
}

// maxAllocsForSize determines the pool limit; smaller classes pool more
func maxAllocsForSize(classSize int) int {
	switch {
	case classSize <= 4096: // <= 4KB
		return 100
	case classSize <= 65536: // <= 64KB
		return 50
	case classSize <= 1048576: // <= 1MB
		return 20
	case classSize <= 16777216: // <= 16MB
		return 10
	default: // > 16MB
		return 5
	}
}

// Stats returns allocator statistics keyed by size class
func (al *Allocator) Stats() map[int]string {
	al.poolsMutex.RLock()
	defer al.poolsMutex.RUnlock()

	stats := make(map[int]string)
	for classSize, pool := range al.pools {
		available, allocated, maxAllocs := pool.Stats()
		stats[classSize] = fmt.Sprintf("available=%d, allocated=%d, max=%d",
			available, allocated, maxAllocs)
	}

	return stats
}
