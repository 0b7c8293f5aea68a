package wasmbin

const (
	opUnreachable = 0x00
	opEnd         = 0x0B
	opReturn      = 0x0F
	opCall        = 0x10
	opDrop        = 0x1A
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opI32Load     = 0x28
	opI64Load     = 0x29
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Add      = 0x6A
	opI32WrapI64  = 0xA7
)

// Code is a function body under construction. Methods chain.
type Code struct {
	Buffer
}

// NewCode starts an empty function body.
func NewCode() *Code {
	return &Code{}
}

func (c *Code) op(b byte) *Code {
	c.AppendByte(b)
	return c
}

func (c *Code) Unreachable() *Code { return c.op(opUnreachable) }
func (c *Code) Return() *Code { return c.op(opReturn) }
func (c *Code) Drop() *Code { return c.op(opDrop) }
func (c *Code) I32Add() *Code { return c.op(opI32Add) }
func (c *Code) I32WrapI64() *Code { return c.op(opI32WrapI64) }

func (c *Code) Call(idx uint32) *Code {
	c.AppendByte(opCall)
	c.WriteU32(idx)
	return c
}

func (c *Code) LocalGet(idx uint32) *Code {
	c.AppendByte(opLocalGet)
	c.WriteU32(idx)
	return c
}

func (c *Code) LocalSet(idx uint32) *Code {
	c.AppendByte(opLocalSet)
	c.WriteU32(idx)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.AppendByte(opI32Const)
	c.WriteI32(v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.AppendByte(opI64Const)
	c.WriteI64(v)
	return c
}

// I32Load loads an i32 at the address on the stack plus offset.
func (c *Code) I32Load(offset uint32) *Code {
	c.AppendByte(opI32Load)
	c.WriteU32(2)
	c.WriteU32(offset)
	return c
}

// I64Load loads an i64 at the address on the stack plus offset.
func (c *Code) I64Load(offset uint32) *Code {
	c.AppendByte(opI64Load)
	c.WriteU32(3)
	c.WriteU32(offset)
	return c
}

// I32Store stores the top i32 at the address below it plus offset.
func (c *Code) I32Store(offset uint32) *Code {
	c.AppendByte(opI32Store)
	c.WriteU32(2)
	c.WriteU32(offset)
	return c
}
