package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bimalab/fireregime/utils"
	"github.com/bimalab/fireregime/worker/rasterprocess"
	"github.com/bimalab/fireregime/worker/rasterservice"
	reuseport "github.com/kavu/go_reuseport"
	"google.golang.org/grpc"
)

func main() {
	port := flag.Int("p", 6000, "gRPC server listening port.")
	poolSize := flag.Int("n", 8, "Maximum number of requests handled concurrently.")
	maxMsgSize := flag.Int("max_msg_size", utils.DefaultRecvMsgSize*10, "Maximum gRPC message size in bytes.")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	log, err := utils.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	pool := rasterservice.NewReaderPool(*poolSize, rasterprocess.NewGDALReader(log), log)

	s := grpc.NewServer(grpc.MaxSendMsgSize(*maxMsgSize))
	rasterservice.RegisterRasterWorkerServer(s, &rasterservice.Server{Pool: pool})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signals
		log.Info("shutting down raster worker")
		s.GracefulStop()
	}()

	// Several worker processes may share the port.
	lis, err := reuseport.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	log.Infof("raster worker listening on %s with %d readers", lis.Addr(), *poolSize)

	if err := s.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
	pool.Close()
}
