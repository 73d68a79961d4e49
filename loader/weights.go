package loader

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// WeightLoader seeds the weight memory of a PE before the simulation
// starts. Each core owns an NxN row-major f32 block at
// baseAddrStart + core*perCoreStride.
type WeightLoader struct {
	baseAddrStart  uint64
	perCoreStride  uint64
	numCores       int
	neuronsPerCore uint32
	fillValue      float32
	rowMajor       bool
	fileCoreOffset int
}

// LoaderBuilder can build weight loaders.
type LoaderBuilder struct {
	baseAddrStart  uint64
	perCoreStride  uint64
	numCores       int
	neuronsPerCore uint32
	fillValue      float32
	rowMajor       bool
	fileCoreOffset int
}

// MakeLoaderBuilder returns a builder with the reference defaults.
func MakeLoaderBuilder() LoaderBuilder {
	return LoaderBuilder{
		numCores:       1,
		neuronsPerCore: 64,
		fillValue:      0.5,
		rowMajor:       true,
	}
}

// WithBaseAddr sets the first core's block base address.
func (b LoaderBuilder) WithBaseAddr(addr uint64) LoaderBuilder {
	b.baseAddrStart = addr
	return b
}

// WithPerCoreStride sets the distance between core blocks. Zero means
// densely packed NxN blocks.
func (b LoaderBuilder) WithPerCoreStride(stride uint64) LoaderBuilder {
	b.perCoreStride = stride
	return b
}

// WithNumCores sets the core count.
func (b LoaderBuilder) WithNumCores(n int) LoaderBuilder {
	b.numCores = n
	return b
}

// WithNeuronsPerCore sets N, the square block edge.
func (b LoaderBuilder) WithNeuronsPerCore(n uint32) LoaderBuilder {
	b.neuronsPerCore = n
	return b
}

// WithFillValue sets the padding value for short or missing files.
func (b LoaderBuilder) WithFillValue(v float32) LoaderBuilder {
	b.fillValue = v
	return b
}

// WithColumnMajor marks the input files as column-major.
func (b LoaderBuilder) WithColumnMajor() LoaderBuilder {
	b.rowMajor = false
	return b
}

// WithFileCoreOffset skips that many per-core blocks at the head of a
// single-file weight set.
func (b LoaderBuilder) WithFileCoreOffset(off int) LoaderBuilder {
	b.fileCoreOffset = off
	return b
}

// Build creates the loader.
func (b LoaderBuilder) Build() *WeightLoader {
	stride := b.perCoreStride
	if stride == 0 {
		stride = uint64(b.neuronsPerCore) * uint64(b.neuronsPerCore) * 4
	}

	return &WeightLoader{
		baseAddrStart:  b.baseAddrStart,
		perCoreStride:  stride,
		numCores:       b.numCores,
		neuronsPerCore: b.neuronsPerCore,
		fillValue:      b.fillValue,
		rowMajor:       b.rowMajor,
		fileCoreOffset: b.fileCoreOffset,
	}
}

// FillUniform writes one value into every weight cell of every core.
func (l *WeightLoader) FillUniform(storage *mem.Storage, value float32) error {
	n := l.neuronsPerCore
	block := make([]float32, n*n)
	for i := range block {
		block[i] = value
	}

	for c := 0; c < l.numCores; c++ {
		if err := l.writeCoreBlock(storage, c, block); err != nil {
			return err
		}
	}
	return nil
}

// LoadSingleFile splits one weight file into consecutive per-core
// blocks, honoring the file core offset.
func (l *WeightLoader) LoadSingleFile(storage *mem.Storage, path, format string) error {
	all, err := readAllFloats(path, format)
	if err != nil {
		return err
	}

	perCore := int(l.neuronsPerCore) * int(l.neuronsPerCore)
	offset := l.fileCoreOffset * perCore

	for c := 0; c < l.numCores; c++ {
		var slice []float32
		if offset < len(all) {
			end := offset + perCore
			if end > len(all) {
				end = len(all)
			}
			slice = all[offset:end]
		}
		if err := l.writeCoreBlock(storage, c, l.normalize(slice)); err != nil {
			return err
		}
		offset += perCore
	}

	return nil
}

// LoadPerCoreFiles loads one file per core from a path template with a
// `{core}` or `{core:02d}` placeholder. Missing files fall back to the
// fill value.
func (l *WeightLoader) LoadPerCoreFiles(storage *mem.Storage, template, format string) error {
	for c := 0; c < l.numCores; c++ {
		path := expandCoreTemplate(template, c)

		buf, err := readAllFloats(path, format)
		if err != nil {
			buf = nil
		}
		if err := l.writeCoreBlock(storage, c, l.normalize(buf)); err != nil {
			return err
		}
	}
	return nil
}

// normalize pads or transposes the raw float list into a full
// row-major NxN block.
func (l *WeightLoader) normalize(buf []float32) []float32 {
	n := int(l.neuronsPerCore)
	block := make([]float32, n*n)

	for pre := 0; pre < n; pre++ {
		for post := 0; post < n; post++ {
			idx := pre*n + post
			src := idx
			if !l.rowMajor {
				src = post*n + pre
			}
			if src < len(buf) {
				block[idx] = buf[src]
			} else {
				block[idx] = l.fillValue
			}
		}
	}

	return block
}

func (l *WeightLoader) writeCoreBlock(storage *mem.Storage, coreID int, block []float32) error {
	data := make([]byte, len(block)*4)
	for i, v := range block {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	base := l.baseAddrStart + uint64(coreID)*l.perCoreStride
	if err := storage.Write(base, data); err != nil {
		return fmt.Errorf("write weights for core %d: %w", coreID, err)
	}
	return nil
}

func expandCoreTemplate(template string, coreID int) string {
	if strings.Contains(template, "{core:02d}") {
		return strings.ReplaceAll(template, "{core:02d}",
			fmt.Sprintf("%02d", coreID))
	}
	return strings.ReplaceAll(template, "{core}", strconv.Itoa(coreID))
}

// readAllFloats reads a weight file: "bin" is a packed little-endian
// f32 array, everything else is whitespace-separated text.
func readAllFloats(path, format string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if format == "bin" {
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("binary weight file %s: size %d is not a multiple of 4",
				path, len(raw))
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	}

	var out []float32
	for _, tok := range strings.Fields(string(raw)) {
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			// Tolerate stray tokens the way the reference loader does.
			continue
		}
		out = append(out, float32(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("text weight file %s: no values", path)
	}
	return out, nil
}
