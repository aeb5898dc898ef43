package drive

import "fmt"

// Cursor tracks the client's position inside one record buffer.
//
//	0 <= checkedOut <= consumed <= valid <= capacity
//
// Bytes below checkedOut are settled. [checkedOut, consumed) is the
// region currently lent to the client, if owned is set. valid is the end
// of meaningful data: rec_used when reading, the record size when writing.
type Cursor struct {
	capacity   int
	valid      int
	consumed   int
	checkedOut int
	owned      bool
}

// Reset points the cursor at a fresh record with data in [start, valid).
func (c *Cursor) Reset(capacity, valid, start int) {
	if valid > capacity {
		valid = capacity
	}
	if start > valid {
		start = valid
	}
	*c = Cursor{capacity: capacity, valid: valid, consumed: start, checkedOut: start}
}

// Remaining is the number of bytes left before valid.
func (c *Cursor) Remaining() int { return c.valid - c.consumed }

// Consumed is the record-relative offset of the next unsettled byte.
func (c *Cursor) Consumed() int { return c.consumed }

// Valid is the end of data in the record.
func (c *Cursor) Valid() int { return c.valid }

// Capacity is the record size.
func (c *Cursor) Capacity() int { return c.capacity }

// Owned reports whether a region is lent to the client.
func (c *Cursor) Owned() bool { return c.owned }

// Taken is the length of the lent region.
func (c *Cursor) Taken() int { return c.consumed - c.checkedOut }

// Take lends up to n bytes and returns the record-relative range.
func (c *Cursor) Take(n int) (start, end int, err error) {
	if c.owned {
		return 0, 0, fmt.Errorf("cursor: region [%d, %d) not returned", c.checkedOut, c.consumed)
	}
	if n <= 0 {
		return 0, 0, fmt.Errorf("cursor: take of %d bytes", n)
	}
	if n > c.Remaining() {
		n = c.Remaining()
	}
	c.checkedOut = c.consumed
	c.consumed += n
	c.owned = true
	return c.checkedOut, c.consumed, nil
}

// Release settles the lent region, keeping only its first n bytes.
func (c *Cursor) Release(n int) error {
	if !c.owned {
		return fmt.Errorf("cursor: release without take")
	}
	if n < 0 || n > c.Taken() {
		return fmt.Errorf("cursor: release of %d bytes, %d taken", n, c.Taken())
	}
	c.consumed = c.checkedOut + n
	c.checkedOut = c.consumed
	c.owned = false
	return nil
}

// Skip moves the cursor forward to off without lending anything.
func (c *Cursor) Skip(off int) error {
	if c.owned {
		return fmt.Errorf("cursor: skip while region is lent")
	}
	if off < c.consumed || off > c.valid {
		return fmt.Errorf("cursor: skip to %d outside [%d, %d]", off, c.consumed, c.valid)
	}
	c.consumed, c.checkedOut = off, off
	return nil
}
