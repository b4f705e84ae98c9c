package service

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/iio-remote/iiod-go/pkg/model"
)

// contextXML returns the XML description of ctx and its zstd compressed
// form. Both are computed once per daemon and shared by every session.
func contextXML(ctx *model.Context) ([]byte, []byte, error) {
	xml, err := ctx.XML()
	if err != nil {
		return nil, nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	return xml, enc.EncodeAll(xml, nil), nil
}

const helpText = `Available commands:

	HELP
		Print this help message
	EXIT
		Close the current session
	PRINT
		Displays a XML string corresponding to the current IIO context
	ZPRINT
		Get a compressed XML string corresponding to the current IIO context
	VERSION
		Get the version of the daemon
	TIMEOUT <timeout_ms>
		Set the timeout (in ms) for I/O operations
	OPEN <device> <samples_count> <mask> [CYCLIC]
		Open the specified device with the given mask of channels
	CLOSE <device>
		Close the specified device
	READ <device> DEBUG|BUFFER|[INPUT|OUTPUT <channel>] [<attribute>]
		Read the value of an attribute
	WRITE <device> DEBUG|BUFFER|[INPUT|OUTPUT <channel>] [<attribute>] <bytes_count>
		Set the value of an attribute
	READBUF <device> <bytes_count>
		Read raw data from the specified device
	WRITEBUF <device> <bytes_count>
		Write raw data to the specified device
	GETTRIG <device>
		Get the name of the trigger used by the specified device
	SETTRIG <device> [<trigger>]
		Set the trigger to use for the specified device
	SET <device> BUFFERS_COUNT <count>
		Set the number of kernel buffers for the specified device
	BINARY
		Switch to the binary protocol
`
