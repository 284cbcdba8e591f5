package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionStats contains statistics about compression operations
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	Duration         time.Duration   `json:"duration"`
}

// Compressor wraps streams with one compression codec
type Compressor interface {
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	GetAlgorithm() CompressionType
	Extension() string
	GetDefaultLevel() int
	GetMaxLevel() int
	GetMinLevel() int
}

// CompressionManager applies and reverses the compression stage of the pipeline
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a new compression manager
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionTypeGzip] = &GzipCompressor{}
	cm.compressors[CompressionTypeLZ4] = &LZ4Compressor{}
	cm.compressors[CompressionTypeZstd] = &ZstdCompressor{}

	return cm
}

// GetCompressor returns a compressor for the specified algorithm
func (cm *CompressionManager) GetCompressor(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// GetSupportedAlgorithms returns a list of supported compression algorithms
func (cm *CompressionManager) GetSupportedAlgorithms() []CompressionType {
	algorithms := make([]CompressionType, 0, len(cm.compressors))
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	return algorithms
}

// CompressFile writes src compressed to src+extension and returns that path.
// A level outside the codec's range selects its maximum. src is left in
// place; on failure nothing is left at the destination.
func (cm *CompressionManager) CompressFile(ctx context.Context, src string, algorithm CompressionType, level int) (string, *CompressionStats, error) {
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return "", nil, err
	}
	if level < compressor.GetMinLevel() || level > compressor.GetMaxLevel() {
		level = compressor.GetMaxLevel()
	}

	start := time.Now()
	dst := src + compressor.Extension()

	written, err := writeFileAtomically(dst, func(out io.Writer) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()

		writer, err := compressor.NewWriter(out, level)
		if err != nil {
			return err
		}
		if _, err := io.Copy(writer, &contextReader{ctx: ctx, r: in}); err != nil {
			writer.Close()
			return err
		}
		return writer.Close()
	})
	if err != nil {
		return "", nil, NewCompressionError(fmt.Sprintf("failed to %s-compress %s", algorithm, src), err)
	}

	original, err := fileSize(src)
	if err != nil {
		os.Remove(dst)
		return "", nil, NewCompressionError("failed to stat compression input", err)
	}

	return dst, &CompressionStats{
		OriginalSize:     original,
		CompressedSize:   written,
		CompressionRatio: CalculateCompressionRatio(original, written),
		Algorithm:        algorithm,
		Level:            level,
		Duration:         time.Since(start),
	}, nil
}

// DecompressFile reverses CompressFile. The codec is chosen from the file's
// suffix and the output path is src without that suffix.
func (cm *CompressionManager) DecompressFile(ctx context.Context, src string, dst string) error {
	algorithm, ok := compressionForExtension(fileExtension(src))
	if !ok {
		return NewCompressionError(fmt.Sprintf("%s does not carry a known compression suffix", src), nil)
	}
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return err
	}

	_, err = writeFileAtomically(dst, func(out io.Writer) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()

		reader, err := compressor.NewReader(&contextReader{ctx: ctx, r: in})
		if err != nil {
			return err
		}
		defer reader.Close()

		_, err = io.Copy(out, reader)
		return err
	})
	if err != nil {
		return NewCompressionError(fmt.Sprintf("failed to decompress %s", src), err)
	}
	return nil
}

// CalculateCompressionRatio calculates the compression ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, level)
}

func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func (gc *GzipCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) Extension() string {
	return extGzip
}

func (gc *GzipCompressor) GetDefaultLevel() int {
	return gzip.BestCompression
}

func (gc *GzipCompressor) GetMaxLevel() int {
	return gzip.BestCompression
}

func (gc *GzipCompressor) GetMinLevel() int {
	return gzip.BestSpeed
}

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)

	// LZ4 has limited level options - use fast or high compression
	lz4Level := lz4.Fast
	if level > 6 {
		lz4Level = lz4.Level9
	}
	if err := writer.Apply(lz4.CompressionLevelOption(lz4Level), lz4.ChecksumOption(true)); err != nil {
		return nil, err
	}
	return writer, nil
}

func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lc *LZ4Compressor) GetAlgorithm() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) Extension() string {
	return extLZ4
}

func (lc *LZ4Compressor) GetDefaultLevel() int {
	return 9
}

func (lc *LZ4Compressor) GetMaxLevel() int {
	return 9
}

func (lc *LZ4Compressor) GetMinLevel() int {
	return 1
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encoderLevel := zstd.SpeedFastest
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
}

func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

func (zc *ZstdCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) Extension() string {
	return extZstd
}

func (zc *ZstdCompressor) GetDefaultLevel() int {
	return 22
}

func (zc *ZstdCompressor) GetMaxLevel() int {
	return 22
}

func (zc *ZstdCompressor) GetMinLevel() int {
	return 1
}
