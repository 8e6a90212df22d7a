package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/swing-coach/internal/config"
	"github.com/jonathan/swing-coach/internal/pipeline"
	"github.com/jonathan/swing-coach/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume inference triggers from Pub/Sub",
	Long: `Run the inference stage: receive frame-extraction completion triggers,
sample frames, ask the vision model for coaching and store the result.`,
	RunE: runWorker,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Consume extraction requests from Pub/Sub",
	Long: `Run the extraction stage: download uploaded videos, extract frames with
ffmpeg, upload them and trigger inference.`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(extractCmd)
}

func requirePubSub(rt *runtime, command string) error {
	if rt.cfg.Queue.Mode != config.DispatchPubSub {
		return fmt.Errorf("%s requires DISPATCH_MODE=pubsub (got %q)", command, rt.cfg.Queue.Mode)
	}
	return nil
}

func runWorker(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := requirePubSub(rt, "worker"); err != nil {
		return err
	}

	store, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	objects, err := rt.openObjects(ctx)
	if err != nil {
		return err
	}
	model, err := rt.openModel(ctx, true)
	if err != nil {
		return err
	}
	client, err := rt.openPubSub(ctx)
	if err != nil {
		return err
	}

	consumer := queue.NewConsumer(client, rt.cfg.Queue.InferenceSubscription, rt.cfg.Queue.MaxOutstandingMessages,
		pipeline.InferenceHandler(rt.inferenceStage(store, objects, model)), rt.log.WithField("stage", pipeline.StageInference))
	return consumer.Run(ctx)
}

func runExtract(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := requirePubSub(rt, "extract"); err != nil {
		return err
	}

	store, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	objects, err := rt.openObjects(ctx)
	if err != nil {
		return err
	}
	client, err := rt.openPubSub(ctx)
	if err != nil {
		return err
	}

	trigger := queue.NewPubSubPublisher(client, rt.cfg.Queue.InferenceTopic)
	rt.onClose(trigger.Stop)

	extraction, err := rt.extractionStage(store, objects, trigger)
	if err != nil {
		return err
	}
	consumer := queue.NewConsumer(client, rt.cfg.Queue.ExtractionSubscription, rt.cfg.Queue.MaxOutstandingMessages,
		pipeline.ExtractionHandler(extraction), rt.log.WithField("stage", pipeline.StageExtraction))
	return consumer.Run(ctx)
}
