package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticache/types"

	"github.com/lambdafsm/dispatcher/arn"
)

// ElastiCacheDescriber discovers a cache cluster's configuration endpoint
// and engine via DescribeCacheClusters, implementing
// arn.CacheClusterDescriber. The registry caches its results for the
// process lifetime (spec §4.1), so this is called at most once per
// cluster ID.
type ElastiCacheDescriber struct {
	client *elasticache.Client
}

// NewElastiCacheDescriber builds an ElastiCacheDescriber for region.
func NewElastiCacheDescriber(cfg aws.Config, region string) *ElastiCacheDescriber {
	client := elasticache.NewFromConfig(cfg, func(o *elasticache.Options) {
		o.Region = region
	})
	return &ElastiCacheDescriber{client: client}
}

func (e *ElastiCacheDescriber) DescribeCacheCluster(ctx context.Context, clusterID string) (arn.Endpoint, error) {
	out, err := e.client.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{
		CacheClusterId:    aws.String(clusterID),
		ShowCacheNodeInfo: aws.Bool(true),
	})
	if err != nil {
		return arn.Endpoint{}, err
	}
	if len(out.CacheClusters) == 0 {
		return arn.Endpoint{}, fmt.Errorf("elasticache: cluster %q not found", clusterID)
	}
	cluster := out.CacheClusters[0]

	engine := arn.EngineMemcached
	if cluster.Engine != nil && *cluster.Engine == "redis" {
		engine = arn.EngineRedis
	}

	if cluster.ConfigurationEndpoint != nil {
		return arn.Endpoint{
			Address: fmt.Sprintf("%s:%d", aws.ToString(cluster.ConfigurationEndpoint.Address), cluster.ConfigurationEndpoint.Port),
			Engine:  engine,
		}, nil
	}
	if len(cluster.CacheNodes) > 0 {
		node := cluster.CacheNodes[0]
		return endpointFromNode(node, engine)
	}
	return arn.Endpoint{}, fmt.Errorf("elasticache: cluster %q has no endpoint", clusterID)
}

func endpointFromNode(node types.CacheNode, engine arn.CacheEngine) (arn.Endpoint, error) {
	if node.Endpoint == nil {
		return arn.Endpoint{}, fmt.Errorf("elasticache: node has no endpoint")
	}
	return arn.Endpoint{
		Address: fmt.Sprintf("%s:%d", aws.ToString(node.Endpoint.Address), node.Endpoint.Port),
		Engine:  engine,
	}, nil
}
