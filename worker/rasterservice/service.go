package rasterservice

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "fireregime.RasterWorker"
	ReadMethod  = "/fireregime.RasterWorker/Read"
)

// ReadRequest asks a worker to resample bands of a dataset onto a grid.
// Bands are 1-based GDAL band indexes; all bands are read when empty.
type ReadRequest struct {
	Path         string     `msgpack:"path"`
	Bands        []int      `msgpack:"bands"`
	Width        int        `msgpack:"width"`
	Height       int        `msgpack:"height"`
	GeoTransform [6]float64 `msgpack:"geot"`
	CRS          string     `msgpack:"crs"`
	Resampling   string     `msgpack:"resampling"`
}

func (r *ReadRequest) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("empty dataset path")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid window %dx%d", r.Width, r.Height)
	}
	if r.CRS == "" {
		return fmt.Errorf("missing CRS")
	}
	return nil
}

// ReadResult carries the samples of every requested band, row major.
// Mask is false where the destination grid falls outside the source
// footprint; it is empty when the reader has no footprint information.
type ReadResult struct {
	Bands     [][]float64 `msgpack:"bands"`
	Mask      []bool      `msgpack:"mask"`
	NoData    float64     `msgpack:"nodata"`
	HasNoData bool        `msgpack:"has_nodata"`
	BytesRead int64       `msgpack:"bytes_read"`
}

// RasterReader is implemented by the worker backend.
type RasterReader interface {
	Read(ctx context.Context, req *ReadRequest) (*ReadResult, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RasterReader)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Read",
			Handler:    readHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rasterservice",
}

// RegisterRasterWorkerServer exposes srv on s.
func RegisterRasterWorkerServer(s grpc.ServiceRegistrar, srv RasterReader) {
	s.RegisterService(&serviceDesc, srv)
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		var readReq ReadRequest
		if err := msgpack.Unmarshal(req.(*wrapperspb.BytesValue).GetValue(), &readReq); err != nil {
			return nil, fmt.Errorf("decoding read request: %v", err)
		}
		res, err := srv.(RasterReader).Read(ctx, &readReq)
		if err != nil {
			return nil, err
		}
		payload, err := msgpack.Marshal(res)
		if err != nil {
			return nil, err
		}
		return wrapperspb.Bytes(payload), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ReadMethod,
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls a remote raster worker.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Read(ctx context.Context, req *ReadRequest, opts ...grpc.CallOption) (*ReadResult, error) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, ReadMethod, wrapperspb.Bytes(payload), out, opts...); err != nil {
		return nil, err
	}
	var res ReadResult
	if err := msgpack.Unmarshal(out.GetValue(), &res); err != nil {
		return nil, fmt.Errorf("decoding read result: %v", err)
	}
	return &res, nil
}
