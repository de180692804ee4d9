package dunning

import (
	"github.com/smallbiznis/collecta/internal/dunning/repository"
	"github.com/smallbiznis/collecta/internal/dunning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
