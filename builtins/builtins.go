// Package builtins implements the primitives compiled programs call:
// integer/text conversion, concatenation, line output and panic.
//
// Each Builtins value is bound to one cell store and one output stream.
// Soft failures return a default value; fatal failures go through the
// Terminator and never return to the caller.
package builtins

import (
	"io"
	"math"
	"os"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/samlang-runtime/cell"
	"github.com/wippyai/samlang-runtime/errors"
)

// FatalExitCode is the process status after panic or a fatal runtime failure.
const FatalExitCode = 1

// Terminator ends the running program with the given status. It must not
// return.
type Terminator func(code uint32)

// Options configures optional primitive behavior.
type Options struct {
	// Diagnostics makes StringToInt print "Bad string: <text>" on soft failure.
	Diagnostics bool
}

// Builtins holds the state shared by the primitives of one program.
type Builtins struct {
	cells     *cell.Store
	out       io.Writer
	opts      Options
	terminate Terminator
}

// New creates the primitives over cells, writing output to out
// (os.Stdout when nil).
func New(cells *cell.Store, out io.Writer, opts Options) *Builtins {
	if out == nil {
		out = os.Stdout
	}
	return &Builtins{
		cells:     cells,
		out:       out,
		opts:      opts,
		terminate: ExitTerminator,
	}
}

// ExitTerminator unwinds the caller by panicking with *sys.ExitError.
func ExitTerminator(code uint32) {
	panic(sys.NewExitError(code))
}

// SetTerminator replaces the terminator. nil restores ExitTerminator.
func (b *Builtins) SetTerminator(t Terminator) {
	if t == nil {
		t = ExitTerminator
	}
	b.terminate = t
}

func (b *Builtins) Store() *cell.Store { return b.cells }

func (b *Builtins) Output() io.Writer { return b.out }

// Exit terminates the program with code. If a custom terminator returns,
// Exit returns the matching *sys.ExitError instead.
func (b *Builtins) Exit(code uint32) error {
	b.terminate(code)
	return sys.NewExitError(code)
}

// IntToString renders n, wrapped to the layout's integer width, as decimal
// text in a new string cell.
func (b *Builtins) IntToString(n int64) (cell.Ref, error) {
	l := b.cells.Layout()
	n = l.Wrap(n)

	if n == 0 {
		return b.cells.MakeStringFromBytes([]byte{'0'})
	}
	if n == l.MinInt() {
		if l.WordSize == 4 {
			return b.cells.MakeStringFromBytes([]byte("-2147483648"))
		}
		return b.cells.MakeStringFromBytes([]byte("-9223372036854775808"))
	}

	// sign plus the 19 digits of the largest 64-bit magnitude
	var buf [20]byte
	i := 0
	if n < 0 {
		buf[i] = '-'
		i++
		n = -n
	}
	start := i
	for n > 0 {
		buf[i] = byte('0' + n%10)
		n /= 10
		i++
	}
	for lo, hi := start, i-1; lo < hi; lo, hi = lo+1, hi-1 {
		buf[lo], buf[hi] = buf[hi], buf[lo]
	}
	return b.cells.MakeStringFromBytes(buf[:i])
}

// StringToInt parses an optional '-' followed by decimal digits. Magnitudes
// beyond the layout's width wrap. Empty input, a lone '-', or any other
// character yields 0.
func (b *Builtins) StringToInt(ref cell.Ref) (int64, error) {
	units, err := b.cells.Elements(ref)
	if err != nil {
		return 0, err
	}
	l := b.cells.Layout()

	digits := units
	neg := len(digits) > 0 && digits[0] == '-'
	if neg {
		digits = digits[1:]
	}
	if len(digits) == 0 {
		return 0, b.badString(ref)
	}

	var acc int64
	for _, u := range digits {
		if u < '0' || u > '9' {
			return 0, b.badString(ref)
		}
		acc = l.Wrap(acc*10 + (u - '0'))
	}
	if neg {
		acc = l.Wrap(-acc)
	}
	return acc, nil
}

func (b *Builtins) badString(ref cell.Ref) error {
	if !b.opts.Diagnostics {
		return nil
	}
	text, err := b.cells.Text(ref)
	if err != nil {
		return err
	}
	_, err = io.WriteString(b.out, "Bad string: "+text+"\n")
	return err
}

// Concat returns a new cell holding the elements of a followed by those of b.
func (b *Builtins) Concat(x, y cell.Ref) (cell.Ref, error) {
	lx, err := b.cells.Len(x)
	if err != nil {
		return 0, err
	}
	ly, err := b.cells.Len(y)
	if err != nil {
		return 0, err
	}
	total := lx + ly
	if total > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseBuiltin, total, "concatenated length")
	}

	out, err := b.cells.MakeArray(uint32(total))
	if err != nil {
		return 0, err
	}
	if err := b.cells.Copy(out, 0, x); err != nil {
		return 0, err
	}
	if err := b.cells.Copy(out, uint32(lx), y); err != nil {
		return 0, err
	}
	return out, nil
}

// Println writes the string cell as UTF-8 followed by a newline in a single
// write. It returns 0.
func (b *Builtins) Println(ref cell.Ref) (int64, error) {
	units, err := b.cells.Elements(ref)
	if err != nil {
		return 0, err
	}
	size := 1
	for _, u := range units {
		size += EncodedLen(u)
	}
	line := make([]byte, 0, size)
	for _, u := range units {
		line = AppendCodePoint(line, u)
	}
	line = append(line, '\n')
	if _, err := b.out.Write(line); err != nil {
		return 0, errors.Wrap(errors.PhaseBuiltin, errors.KindIO, err, "println")
	}
	return 0, nil
}

// Panic prints the message and terminates with FatalExitCode.
func (b *Builtins) Panic(ref cell.Ref) error {
	// Termination happens even if the message cannot be printed.
	_, _ = b.Println(ref)
	return b.Exit(FatalExitCode)
}
