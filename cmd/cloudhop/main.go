package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/cloudhop/cloudhop/app/controllers"
	"github.com/cloudhop/cloudhop/app/repository"
	"github.com/cloudhop/cloudhop/internal/pkg/billing"
	"github.com/cloudhop/cloudhop/internal/pkg/cache"
	"github.com/cloudhop/cloudhop/internal/pkg/database"
	"github.com/cloudhop/cloudhop/internal/pkg/env"
	"github.com/cloudhop/cloudhop/internal/pkg/jobqueue"
	"github.com/cloudhop/cloudhop/internal/pkg/provider"
	"github.com/cloudhop/cloudhop/internal/pkg/quota"
	"github.com/cloudhop/cloudhop/internal/pkg/router"
	"github.com/cloudhop/cloudhop/internal/pkg/slots"
	"github.com/cloudhop/cloudhop/internal/pkg/transfer"
)

func main() {
	app := NewApplication()

	// run the transfer workers until the process is told to stop
	manager := jobqueue.GetManager()
	manager.Start()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	quotaSvc := quota.NewServiceFromDB(db)
	slotSvc := slots.NewServiceFromDB(db)
	billingSvc := billing.NewService(quotaSvc)
	engine := transfer.NewEngine(repos.Job, quotaSvc, slotSvc, provider.NewRegistry())

	controllers.Initialize(engine, slotSvc, billingSvc)

	workers, err := strconv.Atoi(env.GetEnv("TRANSFER_WORKERS", "3"))
	if err != nil || workers < 1 {
		workers = 3
	}
	jobqueue.Initialize(engine, workers)

	app := fiber.New(fiber.Config{
		AppName: "CloudHop",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
