package model

import (
	"bufio"
	"io"
	"os"

	"github.com/hailam/reflex/internal/matrix"
	"github.com/hailam/reflex/internal/sequence"
	"github.com/pkg/errors"
)

// Descriptor format constants.
const (
	MagicNumber = 0x584C4652 // "RFLX"
	Version     = 1

	// FlagBias marks a descriptor that carries a bias stream.
	FlagBias = 1 << 0

	// Upper bounds on header values, checked before anything is allocated.
	MaxLayers     = 1024
	MaxNeurons    = 1 << 16
	MaxParameters = 1 << 26
)

// ErrModelLoad is matched by every error Decode and Load return.
var ErrModelLoad = errors.New("model: load failed")

// LoadError describes which part of a descriptor could not be read.
type LoadError struct {
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return "model: failed to read " + e.Stage + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes every LoadError match ErrModelLoad.
func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }

func loadErr(stage string, err error) error {
	return &LoadError{Stage: stage, Err: err}
}

// FileHeader is the fixed-size prefix of a descriptor.
type FileHeader struct {
	Magic   uint32
	Version uint32
	Layers  uint32
	Flags   uint32
}

// Load opens path and decodes it with Decode.
func Load(path string, weights, biases *sequence.List[*matrix.Matrix], acts *sequence.List[Activation]) error {
	f, err := os.Open(path)
	if err != nil {
		return loadErr("descriptor file", err)
	}
	defer f.Close()

	return Decode(f, weights, biases, acts)
}

// LoadNetwork reads a network from path.
func LoadNetwork(path string, withBias bool) (*Network, error) {
	n := NewNetwork(withBias)
	if err := Load(path, n.Weights, n.Biases, n.Activations); err != nil {
		return nil, err
	}
	return n, nil
}

// ReadNetwork reads a network from r.
func ReadNetwork(r io.Reader, withBias bool) (*Network, error) {
	n := NewNetwork(withBias)
	if err := Decode(r, n.Weights, n.Biases, n.Activations); err != nil {
		return nil, err
	}
	return n, nil
}

// Decode reads a descriptor and appends layers-1 weight matrices, bias matrices and
// activations, in inference order, to the supplied sequences.
//
// A nil biases skips the bias stream. When biases are requested from a descriptor that
// has none, zero biases are appended. Nothing is appended unless the whole descriptor
// decodes.
func Decode(r io.Reader, weights, biases *sequence.List[*matrix.Matrix], acts *sequence.List[Activation]) error {
	br := bufio.NewReader(r)

	shape, flags, err := readHeader(br)
	if err != nil {
		return err
	}
	layers := len(shape) - 1

	ws := make([]*matrix.Matrix, layers)
	for i := 0; i < layers; i++ {
		m, err := matrix.New(shape[i], shape[i+1])
		if err != nil {
			return loadErr("weights", err)
		}
		if err := readLittleEndianSlice(br, m.Data()); err != nil {
			return loadErr("weights", errors.Wrapf(shortRead(err), "layer %d", i))
		}
		ws[i] = m
	}

	var bs []*matrix.Matrix
	if biases != nil {
		bs = make([]*matrix.Matrix, layers)
		for i := 0; i < layers; i++ {
			m, err := matrix.New(1, shape[i+1])
			if err != nil {
				return loadErr("biases", err)
			}
			bs[i] = m
		}
	}
	if flags&FlagBias != 0 {
		for i := 0; i < layers; i++ {
			if bs == nil {
				if _, err := io.CopyN(io.Discard, br, 4*int64(shape[i+1])); err != nil {
					return loadErr("biases", errors.Wrapf(shortRead(err), "layer %d", i))
				}
				continue
			}
			if err := readLittleEndianSlice(br, bs[i].Data()); err != nil {
				return loadErr("biases", errors.Wrapf(shortRead(err), "layer %d", i))
			}
		}
	}

	ids := make([]uint8, layers)
	if err := readLittleEndianSlice(br, ids); err != nil {
		return loadErr("activations", shortRead(err))
	}
	as := make([]Activation, layers)
	for i, id := range ids {
		a := Activation(id)
		if !a.Valid() {
			return loadErr("activations", errors.Errorf("layer %d: unknown id %d", i, id))
		}
		as[i] = a
	}

	for i := 0; i < layers; i++ {
		weights.PushBack(ws[i])
		if biases != nil {
			biases.PushBack(bs[i])
		}
		acts.PushBack(as[i])
	}
	return nil
}

// readHeader validates the fixed header and returns the per-layer neuron counts.
func readHeader(r io.Reader) ([]uint32, uint32, error) {
	header, err := readLittleEndian[FileHeader](r)
	if err != nil {
		return nil, 0, loadErr("header", shortRead(err))
	}
	if header.Magic != MagicNumber {
		return nil, 0, loadErr("header", errors.Errorf("invalid magic number: expected %x, got %x", MagicNumber, header.Magic))
	}
	if header.Version != Version {
		return nil, 0, loadErr("header", errors.Errorf("unsupported version: expected %d, got %d", Version, header.Version))
	}
	if header.Layers < 2 || header.Layers > MaxLayers {
		return nil, 0, loadErr("header", errors.Errorf("layer count %d outside [2, %d]", header.Layers, MaxLayers))
	}

	shape := make([]uint32, header.Layers)
	if err := readLittleEndianSlice(r, shape); err != nil {
		return nil, 0, loadErr("neuron counts", shortRead(err))
	}
	var params uint64
	for i, n := range shape {
		if n == 0 || n > MaxNeurons {
			return nil, 0, loadErr("neuron counts", errors.Errorf("layer %d has %d neurons", i, n))
		}
		if i > 0 {
			params += uint64(shape[i-1])*uint64(n) + uint64(n)
		}
	}
	if params > MaxParameters {
		return nil, 0, loadErr("neuron counts", errors.Errorf("%d parameters exceed the limit of %d", params, MaxParameters))
	}
	return shape, header.Flags, nil
}

// Encode writes n as a descriptor.
func Encode(w io.Writer, n *Network) error {
	if err := n.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)

	shape := n.Shape()
	header := FileHeader{
		Magic:   MagicNumber,
		Version: Version,
		Layers:  uint32(len(shape)),
	}
	if n.Biases != nil {
		header.Flags |= FlagBias
	}
	if err := writeLittleEndian(bw, &header); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	if err := writeLittleEndian(bw, shape); err != nil {
		return errors.Wrap(err, "failed to write neuron counts")
	}

	for i, m := range n.Weights.All() {
		if err := writeLittleEndian(bw, m.Data()); err != nil {
			return errors.Wrapf(err, "failed to write weights of layer %d", i)
		}
	}
	if n.Biases != nil {
		for i, m := range n.Biases.All() {
			if err := writeLittleEndian(bw, m.Data()); err != nil {
				return errors.Wrapf(err, "failed to write biases of layer %d", i)
			}
		}
	}

	ids := make([]uint8, 0, n.Activations.Len())
	n.Activations.ForEach(func(_ int, a Activation) {
		ids = append(ids, uint8(a))
	})
	if err := writeLittleEndian(bw, ids); err != nil {
		return errors.Wrap(err, "failed to write activations")
	}
	return bw.Flush()
}

// Save writes n to path.
func Save(path string, n *Network) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create descriptor file")
	}
	if err := Encode(f, n); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
