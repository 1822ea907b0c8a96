package archive

import (
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type closeFunc func() error

// newLocalParquetWriter creates a parquet writer backed by a local temp
// file. T is the row schema type.
func newLocalParquetWriter[T any](path string, parallel int64, compression string) (*writer.ParquetWriter, closeFunc, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, nil, err
	}

	pw, err := writer.NewParquetWriter(fw, new(T), parallel)
	if err != nil {
		_ = fw.Close()
		return nil, nil, err
	}

	switch compression {
	case "ZSTD":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	case "GZIP":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	}

	closeFn := func() error {
		if err := pw.WriteStop(); err != nil {
			_ = fw.Close()
			return err
		}
		return fw.Close()
	}

	return pw, closeFn, nil
}
