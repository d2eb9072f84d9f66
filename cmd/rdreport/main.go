package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"rdreport/internal/config"
	"rdreport/internal/di"
	"rdreport/internal/server"
	"rdreport/internal/terminal"
)

func main() {
	app := fx.New(
		// Поставщики зависимостей
		di.Module,

		// Хуки жизненного цикла
		fx.Invoke(registerLifecycleHooks),
	)

	// Запуск приложения с остановкой
	os.Exit(runWithGracefulShutdown(app))
}

// registerLifecycleHooks запускает веб-форму или терминальную форму
func registerLifecycleHooks(
	srv server.HTTPServer,
	ctrl *terminal.Controller,
	cfg config.Config,
	logger *logrus.Logger,
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
) {
	if cfg.UI.Mode == config.ModeTerminal {
		registerTerminal(ctrl, logger, lc, shutdowner)
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Запуск HTTP сервера")
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil {
					logger.WithError(err).Error("Не удалось запустить HTTP сервер")
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			if cfg.UI.OpenBrowser {
				go openBrowser("http://"+cfg.Server.Address+"/", logger)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Завершение работы HTTP сервера")
			return srv.Shutdown(ctx)
		},
	})
}

// registerTerminal проводит пользователя по форме и завершает приложение
func registerTerminal(ctrl *terminal.Controller, logger *logrus.Logger, lc fx.Lifecycle, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if err := ctrl.Run(ctx); err != nil {
					switch {
					case errors.Is(err, terminal.ErrAborted), errors.Is(err, context.Canceled):
						logger.Info("Форма закрыта пользователем")
					default:
						logger.WithError(err).Error("Отчет не создан")
						code = 1
					}
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// waitForServer ждет, пока форма начнет отвечать
func waitForServer(url string) bool {
	client := &http.Client{Timeout: time.Second}
	for i := 0; i < 20; i++ {
		resp, err := client.Get(url + "health")
		if err == nil {
			resp.Body.Close()
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// openBrowser открывает форму в браузере по умолчанию
func openBrowser(url string, logger *logrus.Logger) {
	if !waitForServer(url) {
		logger.WithField("url", url).Warn("Форма не отвечает, браузер не открыт")
		return
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.WithError(err).WithField("url", url).Warn("Не удалось открыть браузер")
		return
	}
	logger.WithField("url", url).Info("Форма открыта в браузере")
}

// runWithGracefulShutdown обрабатывает жизненный цикл приложения с обработкой сигналов
func runWithGracefulShutdown(app *fx.App) int {
	// Создаем контексты
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем приложение с таймаутом
	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		logrus.WithError(err).Error("Не удалось запустить приложение")
		return 1
	}

	// Ожидаем сигнал завершения или остановку изнутри
	code := 0
	select {
	case <-quit:
		logrus.Info("Получен сигнал завершения работы")
	case sig := <-app.Wait():
		code = sig.ExitCode
	}

	// Грациозное завершение с таймаутом
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		logrus.WithError(err).Error("Ошибка при завершении работы")
		return 1
	}
	return code
}
