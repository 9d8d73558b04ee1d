package config

import (
	"context"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// AWSDefaults are the ambient credential profile and region applied when a
// request omits them. They are resolved once at startup and passed to the
// key codec, never read from the environment inside algorithms.
type AWSDefaults struct {
	Profile string
	Region  string
}

// ResolveAWSDefaults resolves the default profile and region through the
// AWS SDK's shared-config chain (env, shared config files, IMDS). Explicit
// values on the Configuration win over the resolved chain; if the chain
// itself fails, whatever is on the Configuration is returned as-is so the
// cache still works offline.
func ResolveAWSDefaults(ctx context.Context, c *Configuration) AWSDefaults {
	d := AWSDefaults{
		Profile: c.Global.Profile,
		Region:  c.Global.Region,
	}
	if d.Profile == "" {
		if p := os.Getenv("AWS_PROFILE"); p != "" {
			d.Profile = p
		} else {
			d.Profile = "default"
		}
	}
	if d.Region == "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithSharedConfigProfile(d.Profile))
		if err == nil && cfg.Region != "" {
			d.Region = cfg.Region
		} else {
			d.Region = "us-east-1"
		}
	}
	return d
}
