// Package bootstrap runs a pipekit driver through a uniform lifecycle:
// defaults and validation, logger setup, component start, the task itself,
// then a bounded shutdown that stops components in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    return err
//	}
//	_ = app.RegisterComponent(merge)
//	return app.RunTask(ctx, func(ctx context.Context) error {
//	    return merge.WaitForEmpty(ctx)
//	})
//
// SIGINT and SIGTERM cancel the task context.
package bootstrap
