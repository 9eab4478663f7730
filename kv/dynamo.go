// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
)

// keySchema holds the attribute names dynamofs uses for the composite key
// on both tables. The metadata table calls them "path" and "name" (per
// spec §6); the blocks table calls them "blockId" and "blockNum", but the
// storage layer is attribute-name-agnostic, so one implementation serves
// both, with each constructor fixing its table's names.
type keySchema struct {
	partitionAttr string
	sortAttr      string
	// sortIsNumber marks the blocks table's blockNum, which DynamoDB
	// stores as a Number rather than a String.
	sortIsNumber bool
}

// dynamoGateway implements Gateway against a real DynamoDB table.
type dynamoGateway struct {
	client *dynamodb.DynamoDB
	table  string
	schema keySchema
}

// NewMetadataGateway returns a Gateway bound to the metadata table,
// keyed on (path, name) per spec §6.
func NewMetadataGateway(sess *session.Session, table string) Gateway {
	return &dynamoGateway{
		client: dynamodb.New(sess),
		table:  table,
		schema: keySchema{partitionAttr: "path", sortAttr: "name"},
	}
}

// NewBlocksGateway returns a Gateway bound to the blocks table, keyed on
// (blockId, blockNum) per spec §6.
func NewBlocksGateway(sess *session.Session, table string) Gateway {
	return &dynamoGateway{
		client: dynamodb.New(sess),
		table:  table,
		schema: keySchema{partitionAttr: "blockId", sortAttr: "blockNum", sortIsNumber: true},
	}
}

func (g *dynamoGateway) TableName() string { return g.table }

func (g *dynamoGateway) keyAV(key Key) (map[string]*dynamodb.AttributeValue, error) {
	av := map[string]*dynamodb.AttributeValue{
		g.schema.partitionAttr: {S: aws.String(key.Partition)},
	}
	if g.schema.sortIsNumber {
		av[g.schema.sortAttr] = &dynamodb.AttributeValue{N: aws.String(key.Sort)}
	} else {
		av[g.schema.sortAttr] = &dynamodb.AttributeValue{S: aws.String(key.Sort)}
	}
	return av, nil
}

func (g *dynamoGateway) GetItem(ctx context.Context, key Key, consistent bool, projection ...string) (Item, error) {
	keyAV, err := g.keyAV(key)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.GetItemInput{
		TableName:      aws.String(g.table),
		Key:            keyAV,
		ConsistentRead: aws.Bool(consistent),
	}
	if len(projection) > 0 {
		input.ProjectionExpression = aws.String(joinAttrNames(projection))
		input.ExpressionAttributeNames = attrNameAliases(projection)
	}

	out, err := g.client.GetItemWithContext(ctx, input)
	if err != nil {
		return nil, wrapAWSErr(err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item Item
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("%w: unmarshal item: %v", ErrTransient, err)
	}
	normalizeNumbers(item)
	return item, nil
}

// normalizeNumbers turns the float64 that dynamodbattribute decodes every
// Number into back into int64 when the value is whole, so versions, link
// counts and blockNum read back with the same int64 type the Fake returns.
func normalizeNumbers(item Item) {
	for k, v := range item {
		if f, ok := v.(float64); ok && f == math.Trunc(f) {
			item[k] = int64(f)
		}
	}
}

func (g *dynamoGateway) PutNew(ctx context.Context, key Key, attrs Item) error {
	full := attrs.Clone()
	full[g.schema.partitionAttr] = key.Partition
	if g.schema.sortIsNumber {
		full[g.schema.sortAttr] = mustParseNumber(key.Sort)
	} else {
		full[g.schema.sortAttr] = key.Sort
	}

	av, err := dynamodbattribute.MarshalMap(full)
	if err != nil {
		return fmt.Errorf("%w: marshal item: %v", ErrTransient, err)
	}

	_, err = g.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(g.table),
		Item:                av,
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", g.schema.partitionAttr)),
	})
	return g.classifyWriteErr(err, ErrAlreadyExists)
}

func (g *dynamoGateway) SaveIfVersion(ctx context.Context, key Key, attrs Item, expectedVersion int64) error {
	keyAV, err := g.keyAV(key)
	if err != nil {
		return err
	}

	names := map[string]*string{"#v": aws.String("version")}
	values := map[string]*dynamodb.AttributeValue{
		":expected": {N: aws.String(fmt.Sprintf("%d", expectedVersion))},
	}

	setExpr, setNames, setValues, err := buildSetExpression(attrs)
	if err != nil {
		return err
	}
	for k, v := range setNames {
		names[k] = v
	}
	for k, v := range setValues {
		values[k] = v
	}

	cond := "#v = :expected"
	if expectedVersion == 0 {
		// A brand-new row may not carry a version attribute at all yet.
		cond = "attribute_not_exists(#v) OR #v = :expected"
	}

	_, err = g.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(g.table),
		Key:                       keyAV,
		UpdateExpression:          aws.String("SET " + setExpr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return g.classifyWriteErr(err, ErrConditionFailed)
}

func (g *dynamoGateway) UpdateAttribute(ctx context.Context, key Key, attr string, delta int64) (int64, error) {
	keyAV, err := g.keyAV(key)
	if err != nil {
		return 0, err
	}

	out, err := g.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(g.table),
		Key:               keyAV,
		UpdateExpression: aws.String("ADD #a :delta"),
		ExpressionAttributeNames: map[string]*string{
			"#a": aws.String(attr),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":delta": {N: aws.String(fmt.Sprintf("%d", delta))},
		},
		ReturnValues: aws.String("UPDATED_NEW"),
	})
	if err != nil {
		return 0, wrapAWSErr(err)
	}

	av, ok := out.Attributes[attr]
	if !ok || av.N == nil {
		return 0, fmt.Errorf("%w: ADD did not return a number for %q", ErrTransient, attr)
	}
	var n int64
	if _, err := fmt.Sscanf(*av.N, "%d", &n); err != nil {
		return 0, fmt.Errorf("%w: parse counter: %v", ErrTransient, err)
	}
	return n, nil
}

func (g *dynamoGateway) ConditionalUpdate(ctx context.Context, key Key, sets Item, removes []string, cond Condition) error {
	keyAV, err := g.keyAV(key)
	if err != nil {
		return err
	}

	names := map[string]*string{}
	values := map[string]*dynamodb.AttributeValue{}

	var parts []string
	if len(sets) > 0 {
		setExpr, setNames, setValues, err := buildSetExpression(sets)
		if err != nil {
			return err
		}
		parts = append(parts, "SET "+setExpr)
		for k, v := range setNames {
			names[k] = v
		}
		for k, v := range setValues {
			values[k] = v
		}
	}
	if len(removes) > 0 {
		removeExpr := ""
		for i, attr := range removes {
			alias := fmt.Sprintf("#rm%d", i)
			names[alias] = aws.String(attr)
			if i > 0 {
				removeExpr += ", "
			}
			removeExpr += alias
		}
		parts = append(parts, "REMOVE "+removeExpr)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(g.table),
		Key:       keyAV,
	}
	if len(parts) > 0 {
		expr := parts[0]
		for _, p := range parts[1:] {
			expr += " " + p
		}
		input.UpdateExpression = aws.String(expr)
	}

	if !cond.isZero() {
		alias := "#cond"
		names[alias] = aws.String(cond.Attr)

		switch cond.Kind {
		case ConditionAbsent:
			input.ConditionExpression = aws.String(fmt.Sprintf("attribute_not_exists(%s)", alias))
		case ConditionEquals:
			valAV, err := dynamodbattribute.Marshal(cond.Value)
			if err != nil {
				return fmt.Errorf("%w: marshal condition value: %v", ErrTransient, err)
			}
			values[":condval"] = valAV
			input.ConditionExpression = aws.String(fmt.Sprintf("%s = :condval", alias))
		}
	}

	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}

	_, err = g.client.UpdateItemWithContext(ctx, input)
	return g.classifyWriteErr(err, ErrConditionFailed)
}

func (g *dynamoGateway) QueryPartition(ctx context.Context, partition string, opts QueryOptions) (Page, error) {
	names := map[string]*string{"#p": aws.String(g.schema.partitionAttr)}
	values := map[string]*dynamodb.AttributeValue{":p": {S: aws.String(partition)}}
	keyCond := "#p = :p"

	if opts.SortPrefix != "" {
		names["#s"] = aws.String(g.schema.sortAttr)
		values[":sp"] = &dynamodb.AttributeValue{S: aws.String(opts.SortPrefix)}
		keyCond += " AND begins_with(#s, :sp)"
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(g.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if opts.Limit > 0 {
		input.Limit = aws.Int64(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		// Always project the key attributes too, so callers that recover
		// the sort key from Page.Items (block truncation scanning for
		// blockNum) see it regardless of what they asked for.
		withKeys := append(append([]string{}, opts.Projection...), g.schema.partitionAttr, g.schema.sortAttr)
		input.ProjectionExpression = aws.String(joinAttrNames(withKeys))
		for k, v := range attrNameAliases(withKeys) {
			names[k] = v
		}
	}
	if opts.ContinuationToken != "" {
		startKey, err := decodeContinuationToken(opts.ContinuationToken)
		if err != nil {
			return Page{}, err
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := g.client.QueryWithContext(ctx, input)
	if err != nil {
		return Page{}, wrapAWSErr(err)
	}

	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		var item Item
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return Page{}, fmt.Errorf("%w: unmarshal item: %v", ErrTransient, err)
		}
		normalizeNumbers(item)
		items = append(items, item)
	}

	var tok string
	if len(out.LastEvaluatedKey) > 0 {
		tok, err = encodeContinuationToken(out.LastEvaluatedKey)
		if err != nil {
			return Page{}, err
		}
	}

	return Page{Items: items, ContinuationToken: tok}, nil
}

func (g *dynamoGateway) DeleteItem(ctx context.Context, key Key) error {
	keyAV, err := g.keyAV(key)
	if err != nil {
		return err
	}
	_, err = g.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(g.table),
		Key:       keyAV,
	})
	if err != nil {
		return wrapAWSErr(err)
	}
	return nil
}

func (g *dynamoGateway) classifyWriteErr(err error, onConditionFailed error) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return onConditionFailed
	}
	return wrapAWSErr(err)
}

func wrapAWSErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// encodeContinuationToken/decodeContinuationToken round-trip DynamoDB's
// LastEvaluatedKey/ExclusiveStartKey through an opaque base64 string, so
// Gateway callers never see AttributeValue shapes.
func encodeContinuationToken(key map[string]*dynamodb.AttributeValue) (string, error) {
	plain := make(map[string]interface{}, len(key))
	if err := dynamodbattribute.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("%w: encode continuation token: %v", ErrTransient, err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("%w: encode continuation token: %v", ErrTransient, err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeContinuationToken(token string) (map[string]*dynamodb.AttributeValue, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: decode continuation token: %v", ErrTransient, err)
	}
	var plain map[string]interface{}
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("%w: decode continuation token: %v", ErrTransient, err)
	}
	av, err := dynamodbattribute.MarshalMap(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: decode continuation token: %v", ErrTransient, err)
	}
	return av, nil
}

func buildSetExpression(attrs Item) (expr string, names map[string]*string, values map[string]*dynamodb.AttributeValue, err error) {
	names = map[string]*string{}
	values = map[string]*dynamodb.AttributeValue{}

	i := 0
	for k, v := range attrs {
		alias := fmt.Sprintf("#s%d", i)
		valKey := fmt.Sprintf(":s%d", i)
		names[alias] = aws.String(k)

		av, marshalErr := dynamodbattribute.Marshal(v)
		if marshalErr != nil {
			err = fmt.Errorf("%w: marshal %q: %v", ErrTransient, k, marshalErr)
			return
		}
		values[valKey] = av

		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%s = %s", alias, valKey)
		i++
	}
	return
}

func joinAttrNames(attrs []string) string {
	expr := ""
	for i := range attrs {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("#p%d", i)
	}
	return expr
}

func attrNameAliases(attrs []string) map[string]*string {
	out := make(map[string]*string, len(attrs))
	for i, a := range attrs {
		out[fmt.Sprintf("#p%d", i)] = aws.String(a)
	}
	return out
}

func mustParseNumber(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
