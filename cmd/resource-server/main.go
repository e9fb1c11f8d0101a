// Command resource-server is a reference implementation of a protected
// HTTP resource gated behind the x402 payment handshake: it registers the
// exact and permit scheme servers for both supported chain families (EVM
// and TRON) and delegates verification/settlement to a remote facilitator
// over HTTP.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	x402 "github.com/trx402/engine"
	x402http "github.com/trx402/engine/http"
	ginmw "github.com/trx402/engine/http/gin"
	evmexactserver "github.com/trx402/engine/mechanisms/evm/exact/server"
	evmpermitserver "github.com/trx402/engine/mechanisms/evm/permit/server"
	tronexactserver "github.com/trx402/engine/mechanisms/tron/exact/server"
	tronpermitserver "github.com/trx402/engine/mechanisms/tron/permit/server"
	ginfw "github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const defaultPort = "4021"

func main() {
	godotenv.Load()

	evmPayTo := os.Getenv("EVM_PAYEE_ADDRESS")
	if evmPayTo == "" {
		fmt.Println("EVM_PAYEE_ADDRESS environment variable is required")
		os.Exit(1)
	}
	tronPayTo := os.Getenv("TRON_PAYEE_ADDRESS")
	if tronPayTo == "" {
		fmt.Println("TRON_PAYEE_ADDRESS environment variable is required")
		os.Exit(1)
	}
	facilitatorURL := os.Getenv("FACILITATOR_URL")
	if facilitatorURL == "" {
		fmt.Println("FACILITATOR_URL environment variable is required")
		os.Exit(1)
	}
	engineContract := os.Getenv("MERCHANT_CONTRACT_ADDRESS")

	evmNetwork := x402.Network("eip155:8453")
	tronNetwork := x402.Network("tron:mainnet")

	facilitatorClient := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL: facilitatorURL,
	})

	weatherRoute := x402http.RouteConfig{
		Accepts: x402http.PaymentOptions{
			{Scheme: "exact", PayTo: evmPayTo, Price: "$0.001", Network: evmNetwork},
			{Scheme: "exact", PayTo: tronPayTo, Price: "$0.001", Network: tronNetwork},
		},
		Description: "Get weather data for a city",
		MimeType:    "application/json",
	}
	if engineContract != "" {
		weatherRoute.Accepts = append(weatherRoute.Accepts,
			x402http.PaymentOption{Scheme: "permit", PayTo: evmPayTo, Price: "$0.001", Network: evmNetwork},
			x402http.PaymentOption{Scheme: "permit", PayTo: tronPayTo, Price: "$0.001", Network: tronNetwork},
		)
	}
	routes := x402http.RoutesConfig{"GET /weather": weatherRoute}

	schemes := []ginmw.SchemeConfig{
		{Network: evmNetwork, Server: evmexactserver.NewExactEvmScheme()},
		{Network: tronNetwork, Server: tronexactserver.NewExactTronScheme()},
	}
	if engineContract != "" {
		schemes = append(schemes,
			ginmw.SchemeConfig{Network: evmNetwork, Server: evmpermitserver.NewPermitEvmScheme(evmpermitserver.PermitEvmSchemeConfig{
				EngineContract: engineContract,
			})},
			ginmw.SchemeConfig{Network: tronNetwork, Server: tronpermitserver.NewPermitTronScheme(tronpermitserver.PermitTronSchemeConfig{
				EngineContract: engineContract,
			})},
		)
	}

	r := ginfw.Default()
	r.Use(ginmw.X402Payment(ginmw.Config{
		Routes:      routes,
		Facilitator: facilitatorClient,
		Schemes:     schemes,
		Timeout:     30 * time.Second,
	}))

	r.GET("/weather", func(c *ginfw.Context) {
		city := c.DefaultQuery("city", "San Francisco")
		c.JSON(http.StatusOK, ginfw.H{
			"city":      city,
			"weather":   "sunny",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.GET("/health", func(c *ginfw.Context) {
		c.JSON(http.StatusOK, ginfw.H{"status": "ok"})
	})

	fmt.Printf("resource server listening on http://localhost:%s\n", defaultPort)
	if err := r.Run(":" + defaultPort); err != nil {
		fmt.Printf("error starting server: %v\n", err)
		os.Exit(1)
	}
}
