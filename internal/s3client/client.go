package s3client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	appConfig "backupsync/config"
	"backupsync/internal/models"
	"backupsync/pkg/utils"
)

const deleteBatchSize = 1000

// objectAPI is the subset of *s3.Client the storage destination uses.
type objectAPI interface {
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Client is the cloud storage destination. It uploads every succeeded
// download of a run under <prefix>/<run date>/ in the configured bucket.
type Client struct {
	s3Client objectAPI
	config   *appConfig.Config
	now      func() time.Time
}

func New(cfg *appConfig.Config) (*Client, error) {
	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Client *s3.Client
	if cfg.ApiURL != "" {
		s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ApiURL)
			o.UsePathStyle = true
		})
	} else {
		s3Client = s3.NewFromConfig(awsConfig)
	}

	return NewWithAPI(s3Client, cfg), nil
}

func NewWithAPI(api objectAPI, cfg *appConfig.Config) *Client {
	return &Client{
		s3Client: api,
		config:   cfg,
		now:      time.Now,
	}
}

func (c *Client) Name() string {
	return "storage"
}

func (c *Client) Kind() models.DestinationKind {
	return models.KindStorage
}

func (c *Client) ProbeReadiness(ctx context.Context) models.Probe {
	probe := models.Probe{Name: c.Name()}
	bucketName := c.config.BucketName
	if bucketName == "" {
		probe.Detail = "bucket name is not configured"
		return probe
	}

	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		probe.Detail = fmt.Sprintf("bucket %s is not reachable: %v", bucketName, err)
		return probe
	}

	probe.Valid = true
	probe.Detail = fmt.Sprintf("bucket %s is reachable", bucketName)
	return probe
}

// SyncBatch uploads the files of every download in the batch. An empty batch
// succeeds without touching the bucket.
func (c *Client) SyncBatch(ctx context.Context, downloads []models.DownloadResult) models.SyncOutcome {
	var paths []string
	for _, d := range downloads {
		paths = append(paths, d.Files...)
	}
	if len(paths) == 0 {
		return models.SyncOutcome{Succeeded: true, Detail: "nothing to upload"}
	}

	destinationPath := c.buildRemotePath(c.config.StoragePrefix, c.now().UTC().Format("2006-01-02"))
	result, err := c.UploadFiles(ctx, paths, destinationPath, c.config.StorageArchive)
	if err != nil {
		return models.SyncOutcome{Err: err}
	}

	detail := fmt.Sprintf("uploaded %d files (%s) to s3://%s/%s",
		result.TotalFiles, result.TotalSizeHuman, result.BucketName, destinationPath)
	if result.ArchiveCreated {
		detail = fmt.Sprintf("uploaded archive of %d files (%s) to s3://%s/%s",
			len(paths), result.TotalSizeHuman, result.BucketName, result.Items[0].RemotePath)
	}
	return models.SyncOutcome{
		Succeeded: true,
		Detail:    detail,
		Uploads:   result.Items,
	}
}

func (c *Client) DeleteOldFiles(ctx context.Context, folder string, daysOld int, dryRun bool) (*models.DeleteResult, error) {
	if daysOld <= 0 {
		return nil, errors.New("days must be greater than 0")
	}

	bucketName := c.config.BucketName
	now := c.now()
	cutoffDate := now.AddDate(0, 0, -daysOld)

	prefix := folder
	if !strings.HasSuffix(prefix, "/") && prefix != "" {
		prefix += "/"
	}

	var toDelete []types.ObjectIdentifier
	var deletedFiles []string
	var totalSize int64

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoffDate) {
				toDelete = append(toDelete, types.ObjectIdentifier{
					Key: obj.Key,
				})
				deletedFiles = append(deletedFiles, aws.ToString(obj.Key))
				totalSize += aws.ToInt64(obj.Size)
			}
		}
	}

	deletedCount := 0
	for i := 0; !dryRun && i < len(toDelete); i += deleteBatchSize {
		end := min(i+deleteBatchSize, len(toDelete))
		batch := toDelete[i:end]

		out, err := c.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucketName),
			Delete: &types.Delete{
				Objects: batch,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to delete objects batch: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return nil, fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deletedCount += len(batch)
	}

	if deletedFiles == nil {
		deletedFiles = []string{}
	}

	return &models.DeleteResult{
		BucketName:     bucketName,
		Folder:         folder,
		DaysOld:        daysOld,
		DeletedFiles:   deletedFiles,
		DeletedCount:   deletedCount,
		TotalSizeBytes: totalSize,
		TotalSizeHuman: utils.FormatBytes(totalSize),
		OperationTime:  utils.FormatTime(now),
		CutoffDate:     utils.FormatTime(cutoffDate),
		DryRun:         dryRun,
	}, nil
}

func (c *Client) UploadFiles(ctx context.Context, paths []string, destinationPath string, shouldArchive bool) (*models.UploadResult, error) {
	startTime := c.now()
	bucketName := c.config.BucketName

	if err := utils.ValidatePaths(paths); err != nil {
		return nil, fmt.Errorf("path validation failed: %w", err)
	}

	var uploadItems []models.UploadItem
	var totalSize int64
	var archiveCreated bool

	uploader := manager.NewUploader(c.s3Client)

	if shouldArchive {
		tempDir, err := os.MkdirTemp("", "backupsync-archive-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
		defer os.Remove(tempDir)

		archivePath := filepath.Join(tempDir, utils.GenerateArchiveName("backup", startTime, ".zip"))
		defer utils.CleanupTempFile(archivePath)
		archiveInfo, err := utils.CreateArchive(paths, archivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive: %w", err)
		}

		archiveCreated = true
		totalSize = archiveInfo.CompressedSize

		remotePath := c.buildRemotePath(destinationPath, filepath.Base(archivePath))
		if err := c.uploadSingleFile(ctx, uploader, archivePath, remotePath); err != nil {
			return nil, fmt.Errorf("failed to upload archive: %w", err)
		}

		uploadItems = append(uploadItems, models.UploadItem{
			LocalPath:  strings.Join(paths, ", "),
			RemotePath: remotePath,
			Size:       archiveInfo.CompressedSize,
			IsArchived: true,
		})
	} else {
		for _, path := range paths {
			items, size, err := c.uploadPath(ctx, uploader, path, destinationPath)
			if err != nil {
				return nil, fmt.Errorf("failed to upload %s: %w", path, err)
			}
			uploadItems = append(uploadItems, items...)
			totalSize += size
		}
	}

	return &models.UploadResult{
		BucketName:      bucketName,
		DestinationPath: destinationPath,
		Items:           uploadItems,
		TotalFiles:      len(uploadItems),
		TotalSizeBytes:  totalSize,
		TotalSizeHuman:  utils.FormatBytes(totalSize),
		OperationTime:   utils.FormatTime(startTime),
		ArchiveCreated:  archiveCreated,
		UploadDuration:  c.now().Sub(startTime).String(),
	}, nil
}

func (c *Client) uploadPath(ctx context.Context, uploader *manager.Uploader, localPath, destinationPath string) ([]models.UploadItem, int64, error) {
	var items []models.UploadItem
	var totalSize int64

	fileInfo, err := os.Stat(localPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	if !fileInfo.IsDir() {
		remotePath := c.buildRemotePath(destinationPath, filepath.Base(localPath))
		if err := c.uploadSingleFile(ctx, uploader, localPath, remotePath); err != nil {
			return nil, 0, err
		}
		return []models.UploadItem{{
			LocalPath:  localPath,
			RemotePath: remotePath,
			Size:       fileInfo.Size(),
		}}, fileInfo.Size(), nil
	}

	err = filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}

		remotePath := c.buildRemotePath(destinationPath, filepath.ToSlash(filepath.Join(filepath.Base(localPath), relPath)))
		if err := c.uploadSingleFile(ctx, uploader, path, remotePath); err != nil {
			return err
		}

		items = append(items, models.UploadItem{
			LocalPath:  path,
			RemotePath: remotePath,
			Size:       info.Size(),
		})
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return items, totalSize, nil
}

func (c *Client) uploadSingleFile(ctx context.Context, uploader *manager.Uploader, localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.BucketName),
		Key:         aws.String(remotePath),
		Body:        file,
		ContentType: aws.String(c.detectContentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

func (c *Client) buildRemotePath(destinationPath, filename string) string {
	if destinationPath == "" {
		return filename
	}

	destinationPath = strings.TrimPrefix(destinationPath, "/")

	if !strings.HasSuffix(destinationPath, "/") {
		destinationPath += "/"
	}

	return destinationPath + filename
}

var contentTypes = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
}

// detectContentType uses the extension table first and sniffs the file
// content for anything it does not know.
func (c *Client) detectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, exists := contentTypes[ext]; exists {
		return contentType
	}

	if mt, err := mimetype.DetectFile(filename); err == nil && mt != nil {
		return mt.String()
	}

	return "application/octet-stream"
}
