// Package memory implements the paged guest address space used by the
// executor: the committed MemoryImage and the MemoryMonitor that adds
// speculative writes, fault tracking and page-cycle accounting on top
// of it.
//
// A MemoryImage is a sparse collection of fixed-size pages addressed
// by a 32-bit byte address; a page is materialized lazily on first
// write, so untouched regions of the address space cost nothing.
package memory

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// PageSize is the size, in bytes, of a single page in the image.
const PageSize = 1024

// MemSize is the size, in bytes, of the address space the executor
// operates over: 256 MiB, addressed by 32-bit byte addresses.
const MemSize = 1 << 28

// WordSize is the width, in bytes, of a machine word.
const WordSize = 4

// MemoryImage is a paged, sparse 32-bit address space. Zero value pages
// are never materialized; reading an address whose page has never been
// written returns zero bytes.
//
// MemoryImage is cloned cheaply at segment boundaries: Clone copies the
// page index but shares page byte slices, so a clone only pays to copy
// a page once MemoryMonitor mutates it (copy-on-write).
type MemoryImage struct {
	pageSize uint32
	memSize  uint32
	pages    map[uint32][]byte // pageIndex -> page bytes, len == pageSize
	shared   map[uint32]bool   // pages whose bytes may be aliased by a clone
}

// NewMemoryImage creates an empty image of the given total size and
// page size. Both must be positive and memSize must be a multiple of
// pageSize.
func NewMemoryImage(memSize, pageSize uint32) (*MemoryImage, error) {
	if pageSize == 0 || memSize == 0 || memSize%pageSize != 0 {
		return nil, fmt.Errorf("memory: invalid image geometry (memSize=%d pageSize=%d)", memSize, pageSize)
	}
	return &MemoryImage{
		pageSize: pageSize,
		memSize:  memSize,
		pages:    make(map[uint32][]byte),
		shared:   make(map[uint32]bool),
	}, nil
}

// NewDefaultImage creates an image sized per the zkVM defaults
// (MemSize, PageSize).
func NewDefaultImage() *MemoryImage {
	img, err := NewMemoryImage(MemSize, PageSize)
	if err != nil {
		panic(err) // unreachable: constants are well-formed
	}
	return img
}

// PageSize returns the page size of this image.
func (m *MemoryImage) PageSize() uint32 { return m.pageSize }

// MemSize returns the total address space size of this image.
func (m *MemoryImage) MemSize() uint32 { return m.memSize }

// PageIndex returns the page index and in-page offset for addr.
func (m *MemoryImage) PageIndex(addr uint32) (pageIdx, offset uint32) {
	return addr / m.pageSize, addr % m.pageSize
}

// InBounds reports whether addr..addr+size fits inside the address space.
func (m *MemoryImage) InBounds(addr uint32, size uint32) bool {
	if size == 0 {
		return addr <= m.memSize
	}
	end := uint64(addr) + uint64(size)
	return end <= uint64(m.memSize)
}

// pageBytes returns the page's bytes, or nil if the page has never been
// written (a logical all-zero page).
func (m *MemoryImage) pageBytes(pageIdx uint32) []byte {
	return m.pages[pageIdx]
}

// ReadWord reads the little-endian word at addr. addr must be
// word-aligned and in bounds.
func (m *MemoryImage) ReadWord(addr uint32) (uint32, error) {
	if addr%WordSize != 0 {
		return 0, fmt.Errorf("memory: misaligned word read at 0x%08x", addr)
	}
	if !m.InBounds(addr, WordSize) {
		return 0, fmt.Errorf("memory: out of bounds read at 0x%08x", addr)
	}
	pageIdx, off := m.PageIndex(addr)
	page := m.pageBytes(pageIdx)
	if page == nil {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(page[off:]), nil
}

// ReadByte reads a single byte at addr.
func (m *MemoryImage) ReadByte(addr uint32) (byte, error) {
	if !m.InBounds(addr, 1) {
		return 0, fmt.Errorf("memory: out of bounds read at 0x%08x", addr)
	}
	pageIdx, off := m.PageIndex(addr)
	page := m.pageBytes(pageIdx)
	if page == nil {
		return 0, nil
	}
	return page[off], nil
}

// ReadHalfword reads the little-endian 16-bit halfword at addr. addr
// must be halfword-aligned and in bounds.
func (m *MemoryImage) ReadHalfword(addr uint32) (uint16, error) {
	if addr%2 != 0 {
		return 0, fmt.Errorf("memory: misaligned halfword read at 0x%08x", addr)
	}
	if !m.InBounds(addr, 2) {
		return 0, fmt.Errorf("memory: out of bounds read at 0x%08x", addr)
	}
	pageIdx, off := m.PageIndex(addr)
	page := m.pageBytes(pageIdx)
	if page == nil {
		return 0, nil
	}
	return binary.LittleEndian.Uint16(page[off:]), nil
}

// writeByteLocked materializes the target page and writes a single
// byte into it. Used by MemoryMonitor to merge its speculative
// byte-level overlay into the committed image.
func (m *MemoryImage) writeByteLocked(addr uint32, v byte) error {
	if !m.InBounds(addr, 1) {
		return fmt.Errorf("memory: out of bounds write at 0x%08x", addr)
	}
	pageIdx, off := m.PageIndex(addr)
	page := m.ownedPage(pageIdx)
	page[off] = v
	return nil
}

// writeWordLocked materializes the target page (copying it if it is
// shared with another image via Clone) and writes the word into it.
// SeedWord is its caller; MemoryMonitor commits through
// writeByteLocked instead.
func (m *MemoryImage) writeWordLocked(addr, value uint32) error {
	if addr%WordSize != 0 {
		return fmt.Errorf("memory: misaligned word write at 0x%08x", addr)
	}
	if !m.InBounds(addr, WordSize) {
		return fmt.Errorf("memory: out of bounds write at 0x%08x", addr)
	}
	pageIdx, off := m.PageIndex(addr)
	page := m.ownedPage(pageIdx)
	binary.LittleEndian.PutUint32(page[off:], value)
	return nil
}

// ownedPage returns a page slice for pageIdx that is safe for this
// image to mutate in place, allocating or copying as needed. A page
// still aliased by a clone is copied before being returned.
func (m *MemoryImage) ownedPage(pageIdx uint32) []byte {
	page, ok := m.pages[pageIdx]
	if !ok {
		page = make([]byte, m.pageSize)
		m.pages[pageIdx] = page
		return page
	}
	if m.shared[pageIdx] {
		cp := make([]byte, m.pageSize)
		copy(cp, page)
		m.pages[pageIdx] = cp
		delete(m.shared, pageIdx)
		return cp
	}
	return page
}

// Clone returns a new MemoryImage sharing this image's page contents.
// Every materialized page is marked shared in both images, so the
// first mutation of a page on either side copies it first: cloning is
// O(pages) in the index but pays for page bytes lazily.
func (m *MemoryImage) Clone() *MemoryImage {
	pages := make(map[uint32][]byte, len(m.pages))
	shared := make(map[uint32]bool, len(m.pages))
	for idx, page := range m.pages {
		pages[idx] = page
		shared[idx] = true
		m.shared[idx] = true
	}
	return &MemoryImage{pageSize: m.pageSize, memSize: m.memSize, pages: pages, shared: shared}
}

// SeedWord writes a little-endian word into the image directly,
// bypassing the monitor. Loaders and tests use it to build the initial
// image before execution begins; it must not be called on an image a
// monitor is already driving.
func (m *MemoryImage) SeedWord(addr, value uint32) error {
	return m.writeWordLocked(addr, value)
}

// SeedRegion writes data into the image directly, byte by byte. Same
// caveats as SeedWord.
func (m *MemoryImage) SeedRegion(addr uint32, data []byte) error {
	for i, b := range data {
		if err := m.writeByteLocked(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// ComputeID returns a content hash identifying the image: the SHA-256
// of every materialized page's index and bytes, in index order. Two
// images with the same logical contents (including images where some
// pages are implicit zero pages) produce the same ID only if they
// agree on which pages are materialized; callers that care about pure
// logical equality should normalize (e.g. drop all-zero pages) before
// comparing IDs. The executor never needs that normalization because
// it only ever compares IDs of images built the same way (post-commit
// states derived from the same pre-image).
func (m *MemoryImage) ComputeID() [32]byte {
	indices := make([]uint32, 0, len(m.pages))
	for idx := range m.pages {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	h := sha256.New()
	var idxBuf [4]byte
	for _, idx := range indices {
		binary.LittleEndian.PutUint32(idxBuf[:], idx)
		h.Write(idxBuf[:])
		h.Write(m.pages[idx])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
