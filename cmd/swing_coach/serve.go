package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/swing-coach/internal/coaching"
	"github.com/jonathan/swing-coach/internal/config"
	"github.com/jonathan/swing-coach/internal/pipeline"
	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/server"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts swing videos for analysis, reports results
and answers chat messages. With DISPATCH_MODE=inline the extraction and
inference stages also run inside this process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	if servePort > 0 {
		rt.cfg.Server.Port = servePort
	}

	store, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	inline := rt.cfg.Queue.Mode == config.DispatchInline
	model, err := rt.openModel(ctx, inline)
	if err != nil {
		return err
	}

	var extractionPub queue.Publisher
	var dispatchers []*queue.InlineDispatcher
	if inline {
		objects, err := rt.openObjects(ctx)
		if err != nil {
			return err
		}
		inferenceDispatch := queue.NewInlineDispatcher(pipeline.InferenceHandler(rt.inferenceStage(store, objects, model)), rt.log)
		extraction, err := rt.extractionStage(store, objects, inferenceDispatch)
		if err != nil {
			return err
		}
		extractionDispatch := queue.NewInlineDispatcher(pipeline.ExtractionHandler(extraction), rt.log)
		extractionPub = extractionDispatch
		dispatchers = append(dispatchers, extractionDispatch, inferenceDispatch)
	} else {
		client, err := rt.openPubSub(ctx)
		if err != nil {
			return err
		}
		pub := queue.NewPubSubPublisher(client, rt.cfg.Queue.ExtractionTopic)
		rt.onClose(pub.Stop)
		extractionPub = pub
	}

	chatOpts := coaching.DefaultOptions()
	chatOpts.HistoryLimit = rt.cfg.Pipeline.HistoryLimit

	srv := server.New(server.Config{
		Port:        rt.cfg.Server.Port,
		CORSOrigins: rt.cfg.Server.CORSOrigins,
	}, server.Deps{
		Analyses: store,
		Intake:   pipeline.NewIntake(store, extractionPub, rt.log),
		Chat:     coaching.NewService(store, model, chatOpts, rt.log),
		Identity: rt.identityResolver(),
		Log:      rt.log,
	})

	serveErr := srv.Start(ctx)
	for _, d := range dispatchers {
		d.Wait()
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}
