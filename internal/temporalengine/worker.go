package temporalengine

import (
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker connects to the Temporal cluster at hostPort and runs a
// worker polling taskQueue until interrupted, registering JobWorkflow and
// every Activities method.
func StartWorker(hostPort, namespace, taskQueue string, acts *Activities, logger *slog.Logger) error {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(JobWorkflow)

	w.RegisterActivity(acts.PlanActivity)
	w.RegisterActivity(acts.ReplanActivity)
	w.RegisterActivity(acts.CreateWorktreeActivity)
	w.RegisterActivity(acts.ExecuteStepActivity)
	w.RegisterActivity(acts.VerifyActivity)
	w.RegisterActivity(acts.MergeActivity)
	w.RegisterActivity(acts.PostMergeChecksActivity)
	w.RegisterActivity(acts.CheckBudgetActivity)
	w.RegisterActivity(acts.DiscardWorktreeActivity)
	w.RegisterActivity(acts.RecordEventActivity)
	w.RegisterActivity(acts.JobMetricsActivity)
	w.RegisterActivity(acts.EscalateActivity)

	logger.Info("temporal worker starting", "task_queue", taskQueue, "namespace", namespace)
	return w.Run(worker.InterruptCh())
}
