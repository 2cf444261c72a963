package queue

import (
	"fmt"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// TopicName implements the one-topic-per-cluster naming rule:
// `{cluster_identifier}_cluster_{cluster_id}`. The consumer group name is
// identical to the topic name.
func TopicName(clusterIdentifier string, clusterID int) string {
	return fmt.Sprintf("%s_cluster_%d", clusterIdentifier, clusterID)
}

// ClusterIDForGuild implements the front-end dispatch rule: the cluster
// owning an interaction is derived from the guild id the same way a
// shard is, then collapsed from shard index to cluster index.
func ClusterIDForGuild(guildID snowflake.ID, clusters, shardsPerCluster int) int {
	if clusters <= 0 || shardsPerCluster <= 0 {
		return 0
	}
	totalShards := clusters * shardsPerCluster
	shard := guildID.ShardID(totalShards)
	return shard / shardsPerCluster
}
